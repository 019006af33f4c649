package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	Dex2JarScriptUnix    = "d2j-dex2jar.sh"
	Dex2JarScriptWindows = "d2j-dex2jar.bat"

	// ScratchFileName dex2jar 输出重定向文件，调用结束后删除
	ScratchFileName = "dex2jarOutput.txt"
)

// ErrUnsupportedOS 无法为当前系统选择 dex2jar 脚本
var ErrUnsupportedOS = errors.New("unsupported host operating system")

// Runner 外部反编译工具
type Runner interface {
	// Run 以 workDir 为工作目录转换 input，阻塞直到进程退出
	Run(ctx context.Context, input, workDir string) error
}

// Dex2JarRunner 通过 shell/bat 脚本调用 dex2jar
type Dex2JarRunner struct {
	toolDir string
	goos    string
	logger  *logrus.Logger
}

// NewDex2JarRunner 创建 dex2jar 调用器，toolDir 相对路径按当前工作目录解析
func NewDex2JarRunner(toolDir string, logger *logrus.Logger) (*Dex2JarRunner, error) {
	abs, err := filepath.Abs(toolDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dex2jar directory: %w", err)
	}
	return &Dex2JarRunner{
		toolDir: abs,
		goos:    runtime.GOOS,
		logger:  logger,
	}, nil
}

// Command 根据操作系统选择可执行命令
func (r *Dex2JarRunner) Command(input string) (string, []string, error) {
	switch {
	case r.goos == "linux" || r.goos == "darwin" || strings.HasSuffix(r.goos, "bsd"):
		return "sh", []string{filepath.Join(r.toolDir, Dex2JarScriptUnix), input}, nil
	case r.goos == "windows":
		return filepath.Join(r.toolDir, Dex2JarScriptWindows), []string{input}, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, r.goos)
	}
}

// Run 执行 dex2jar
func (r *Dex2JarRunner) Run(ctx context.Context, input, workDir string) error {
	name, args, err := r.Command(input)
	if err != nil {
		return err
	}

	// stdout/stderr 写入临时文件，避免管道缓冲区写满阻塞子进程
	scratchPath := filepath.Join(workDir, ScratchFileName)
	scratch, err := os.Create(scratchPath)
	if err != nil {
		return fmt.Errorf("failed to create scratch file: %w", err)
	}
	defer os.Remove(scratchPath)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	cmd.Stdout = scratch
	cmd.Stderr = scratch

	r.logger.WithFields(logrus.Fields{
		"command":  name,
		"args":     args,
		"work_dir": workDir,
	}).Debug("Executing dex2jar")

	runErr := cmd.Run()
	scratch.Close()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("dex2jar interrupted: %w", ctxErr)
	}
	if runErr != nil {
		return fmt.Errorf("dex2jar failed: %w", runErr)
	}
	return nil
}
