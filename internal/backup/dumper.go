package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"academyops/pkg/core/config"
)

// Dumper 导出与导入数据库
type Dumper interface {
	Database() string
	Dump(ctx context.Context, w io.Writer) error
	Restore(ctx context.Context, r io.Reader) error
}

// ExecDumper 调用 mysqldump / pg_dump 等命令行工具
type ExecDumper struct {
	db            config.Database
	dumpBinary    string
	restoreBinary string
}

func NewExecDumper(db config.Database, dumpBinary, restoreBinary string) *ExecDumper {
	if dumpBinary == "" {
		dumpBinary = "mysqldump"
		if db.IsPostgres() {
			dumpBinary = "pg_dump"
		}
	}
	if restoreBinary == "" {
		restoreBinary = "mysql"
		if db.IsPostgres() {
			restoreBinary = "psql"
		}
	}
	return &ExecDumper{db: db, dumpBinary: dumpBinary, restoreBinary: restoreBinary}
}

func (d *ExecDumper) Database() string {
	return d.db.DbName
}

func (d *ExecDumper) port() string {
	if d.db.Port > 0 {
		return strconv.FormatInt(d.db.Port, 10)
	}
	if d.db.IsPostgres() {
		return "5432"
	}
	return "3306"
}

func (d *ExecDumper) dumpArgs() []string {
	if d.db.IsPostgres() {
		return []string{"-h", d.db.Host, "-p", d.port(), "-U", d.db.User, "--no-owner", "--no-privileges", d.db.DbName}
	}
	return []string{"-h", d.db.Host, "-P", d.port(), "-u", d.db.User,
		"--single-transaction", "--routines", "--triggers", "--set-gtid-purged=OFF", d.db.DbName}
}

func (d *ExecDumper) restoreArgs() []string {
	if d.db.IsPostgres() {
		return []string{"-h", d.db.Host, "-p", d.port(), "-U", d.db.User, "-v", "ON_ERROR_STOP=1", "-d", d.db.DbName}
	}
	return []string{"-h", d.db.Host, "-P", d.port(), "-u", d.db.User, d.db.DbName}
}

// env 密码通过环境变量传递，不出现在进程参数里
func (d *ExecDumper) env() []string {
	env := os.Environ()
	if d.db.IsPostgres() {
		return append(env, "PGPASSWORD="+d.db.Password)
	}
	return append(env, "MYSQL_PWD="+d.db.Password)
}

func (d *ExecDumper) Dump(ctx context.Context, w io.Writer) error {
	return d.run(ctx, d.dumpBinary, d.dumpArgs(), nil, w)
}

func (d *ExecDumper) Restore(ctx context.Context, r io.Reader) error {
	return d.run(ctx, d.restoreBinary, d.restoreArgs(), r, io.Discard)
}

func (d *ExecDumper) run(ctx context.Context, binary string, args []string, stdin io.Reader, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = d.env()
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &limitedBuffer{buf: &stderr, limit: 4096}

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s 执行失败: %w: %s", binary, err, msg)
		}
		return fmt.Errorf("%s 执行失败: %w", binary, err)
	}
	return nil
}

// limitedBuffer 只保留前 limit 字节的 stderr
type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if remain := l.limit - l.buf.Len(); remain > 0 {
		if len(p) > remain {
			l.buf.Write(p[:remain])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
