package backup

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// 加密文件格式：
//
//	magic(8) | salt(16) | noncePrefix(4) | chunk...
//	chunk = length(4) | final(1) | ciphertext(length)
//
// 每个分块的 nonce 为 noncePrefix + 8 字节计数，final 标记参与认证，防止截断。
const (
	encMagic     = "AOPSENC1"
	saltSize     = 16
	prefixSize   = 4
	chunkSize    = 64 * 1024
	maxChunkSize = chunkSize + 16
)

var ErrCorrupted = errors.New("备份文件已损坏或密钥错误")

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func chunkNonce(prefix []byte, counter uint64) []byte {
	nonce := make([]byte, 12)
	copy(nonce, prefix)
	binary.BigEndian.PutUint64(nonce[prefixSize:], counter)
	return nonce
}

type encryptWriter struct {
	w       io.Writer
	aead    cipher.AEAD
	prefix  []byte
	counter uint64
	buf     []byte
	closed  bool
}

// newEncryptWriter Close 写入最后一个分块，不关闭底层 writer
func newEncryptWriter(w io.Writer, passphrase string) (io.WriteCloser, error) {
	salt := make([]byte, saltSize)
	prefix := make([]byte, prefixSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(prefix); err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, len(encMagic)+saltSize+prefixSize)
	header = append(header, encMagic...)
	header = append(header, salt...)
	header = append(header, prefix...)
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return &encryptWriter{w: w, aead: aead, prefix: prefix, buf: make([]byte, 0, chunkSize)}, nil
}

func (e *encryptWriter) Write(p []byte) (int, error) {
	if e.closed {
		return 0, errors.New("encrypt writer closed")
	}
	written := 0
	for len(p) > 0 {
		n := copy(e.buf[len(e.buf):cap(e.buf)], p)
		e.buf = e.buf[:len(e.buf)+n]
		p = p[n:]
		written += n
		// 缓冲满时先不写出，留到确认不是最后一块
		if len(e.buf) == cap(e.buf) && len(p) > 0 {
			if err := e.flush(false); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (e *encryptWriter) flush(final bool) error {
	var flag byte
	if final {
		flag = 1
	}
	sealed := e.aead.Seal(nil, chunkNonce(e.prefix, e.counter), e.buf, []byte{flag})
	e.counter++

	var head [5]byte
	binary.BigEndian.PutUint32(head[:4], uint32(len(sealed)))
	head[4] = flag
	if _, err := e.w.Write(head[:]); err != nil {
		return err
	}
	if _, err := e.w.Write(sealed); err != nil {
		return err
	}
	e.buf = e.buf[:0]
	return nil
}

func (e *encryptWriter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.flush(true)
}

type decryptReader struct {
	r       *bufio.Reader
	aead    cipher.AEAD
	prefix  []byte
	counter uint64
	plain   []byte
	done    bool
}

func newDecryptReader(r io.Reader, passphrase string) (io.Reader, error) {
	br := bufio.NewReader(r)
	header := make([]byte, len(encMagic)+saltSize+prefixSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("读取加密头失败: %w", err)
	}
	if string(header[:len(encMagic)]) != encMagic {
		return nil, ErrCorrupted
	}
	salt := header[len(encMagic) : len(encMagic)+saltSize]
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	prefix := append([]byte(nil), header[len(encMagic)+saltSize:]...)
	return &decryptReader{r: br, aead: aead, prefix: prefix}, nil
}

func (d *decryptReader) Read(p []byte) (int, error) {
	for len(d.plain) == 0 {
		if d.done {
			return 0, io.EOF
		}
		if err := d.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.plain)
	d.plain = d.plain[n:]
	return n, nil
}

func (d *decryptReader) next() error {
	var head [5]byte
	if _, err := io.ReadFull(d.r, head[:]); err != nil {
		// 没读到 final 分块就结束，说明文件被截断
		return ErrCorrupted
	}
	size := binary.BigEndian.Uint32(head[:4])
	if size > maxChunkSize {
		return ErrCorrupted
	}
	sealed := make([]byte, size)
	if _, err := io.ReadFull(d.r, sealed); err != nil {
		return ErrCorrupted
	}
	plain, err := d.aead.Open(nil, chunkNonce(d.prefix, d.counter), sealed, []byte{head[4]})
	if err != nil {
		return ErrCorrupted
	}
	d.counter++
	d.plain = plain
	if head[4] == 1 {
		d.done = true
	}
	return nil
}
