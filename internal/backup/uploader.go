package backup

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"academyops/pkg/core/config"
	"academyops/pkg/oss"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Uploader 备份文件异地保存
type Uploader interface {
	Name() string
	Upload(ctx context.Context, localPath, name string) (string, error)
}

// OSSUploader 上传到阿里云 OSS
type OSSUploader struct {
	service *oss.AliyunService
	prefix  string
}

func NewOSSUploader(service *oss.AliyunService, prefix string) *OSSUploader {
	return &OSSUploader{service: service, prefix: prefix}
}

func (u *OSSUploader) Name() string { return "oss" }

func (u *OSSUploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := path.Join(u.prefix, name)
	if err := u.service.UploadFile(ctx, key, f); err != nil {
		return "", err
	}
	return "oss://" + key, nil
}

// SFTPUploader 通过 SSH 上传到备份服务器
type SFTPUploader struct {
	cfg config.SftpConfig
}

func NewSFTPUploader(cfg config.SftpConfig) (*SFTPUploader, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, fmt.Errorf("sftp 配置不完整: host 与 user 不能为空")
	}
	if cfg.Password == "" && cfg.PrivateKey == "" {
		return nil, fmt.Errorf("sftp 配置不完整: 需要密码或私钥")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "backups"
	}
	return &SFTPUploader{cfg: cfg}, nil
}

func (u *SFTPUploader) Name() string { return "sftp" }

func (u *SFTPUploader) sshClient(ctx context.Context) (*ssh.Client, error) {
	var auth []ssh.AuthMethod
	if u.cfg.PrivateKey != "" {
		pem, err := os.ReadFile(u.cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("读取私钥失败: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if u.cfg.Password != "" {
		auth = append(auth, ssh.Password(u.cfg.Password))
	}

	sshConfig := &ssh.ClientConfig{
		User:            u.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: 支持配置 known_hosts 校验主机密钥
		Timeout:         30 * time.Second,
	}

	addr := net.JoinHostPort(u.cfg.Host, strconv.Itoa(u.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH 握手失败: %w", err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func (u *SFTPUploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	client, err := u.sshClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return "", fmt.Errorf("创建 SFTP 客户端失败: %w", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(u.cfg.RemoteDir); err != nil {
		return "", fmt.Errorf("创建远端目录失败: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	remotePath := path.Join(u.cfg.RemoteDir, name)
	tmpPath := remotePath + ".part"
	dst, err := sftpClient.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("创建远端文件失败: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = sftpClient.Remove(tmpPath)
		return "", fmt.Errorf("上传失败: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("上传失败: %w", err)
	}
	if err := sftpClient.PosixRename(tmpPath, remotePath); err != nil {
		return "", fmt.Errorf("重命名远端文件失败: %w", err)
	}
	return fmt.Sprintf("sftp://%s%s", u.cfg.Host, path.Join("/", remotePath)), nil
}
