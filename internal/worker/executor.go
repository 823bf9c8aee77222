package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultShell — shell, через который выполняются команды шагов.
const DefaultShell = "/bin/sh"

// killWaitDelay — сколько ждать закрытия пайпов после отмены ctx.
// Дочерние процессы shell могут держать stdout открытым и после его смерти.
const killWaitDelay = 500 * time.Millisecond

// CommandRunner — интерфейс для выполнения команды шага.
//
// Реализация по умолчанию — ShellRunner. В тестах подменяется,
// чтобы симулировать сбой запуска.
type CommandRunner interface {
	Run(ctx context.Context, command string) (*CommandResult, error)
}

// CommandResult — результат выполнения команды.
type CommandResult struct {
	// Stdout — захваченный стандартный вывод.
	Stdout []byte

	// Stderr — захваченный вывод ошибок.
	Stderr []byte

	// ExitCode — код выхода (-1, если процесс убит сигналом).
	ExitCode int
}

// ShellRunner выполняет команду через shell хоста: `<shell> -c <command>`.
type ShellRunner struct {
	// Shell — путь к shell (default: /bin/sh).
	Shell string

	// Dir — рабочий каталог команды (default: текущий каталог процесса).
	Dir string

	// Env — дополнительные переменные окружения (KEY=VALUE).
	Env []string
}

// Run выполняет команду и захватывает stdout и stderr раздельно.
//
// Ненулевой код выхода не является ошибкой — он возвращается в ExitCode.
// Ошибка возвращается только если процесс не удалось запустить
// или ctx отменён во время выполнения.
func (r ShellRunner) Run(ctx context.Context, command string) (*CommandResult, error) {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = r.Dir
	cmd.WaitDelay = killWaitDelay
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &CommandResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%w: %w", ErrCommandLaunch, ctxErr)
	}

	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return result, fmt.Errorf("%w: %w", ErrCommandLaunch, err)
}
