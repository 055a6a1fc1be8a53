package maintenance

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxOutput = 8 * 1024

// CommandRunner 在工作目录下执行外部命令
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (string, error)
}

// ShellRunner 通过 sh -c 执行
type ShellRunner struct{}

func (ShellRunner) Run(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	// 子进程持有输出管道时，取消后最多再等一秒
	cmd.WaitDelay = time.Second
	out := &tailBuffer{limit: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if err != nil {
		if ctx.Err() != nil {
			return output, fmt.Errorf("命令超时或被取消: %s: %w", command, ctx.Err())
		}
		return output, fmt.Errorf("命令执行失败: %s: %w", command, err)
	}
	return output, nil
}

// tailBuffer 只保留最后 limit 字节的输出
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
