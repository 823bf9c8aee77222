package worker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogTimeLayout — формат времени в лог-артефактах (UTC, микросекунды).
const LogTimeLayout = "2006-01-02 15:04:05.000000"

// ArtifactStore создаёт лог-артефакты шагов.
type ArtifactStore interface {
	Create(name string) (Artifact, error)
}

// Artifact — один открытый на запись лог-артефакт.
type Artifact interface {
	io.WriteCloser

	// Path возвращает путь, по которому артефакт доступен оператору.
	Path() string
}

// DirStore хранит артефакты файлами в одном каталоге.
//
// Каталог должен существовать: его создание — забота вызывающего.
type DirStore struct {
	Dir string
}

// Create создаёт новый файл артефакта. Существующий файл не перезаписывается.
func (s DirStore) Create(name string) (Artifact, error) {
	path := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileArtifact{File: f}, nil
}

// Read читает артефакт по пути, записанному в StepRecord.LogFile.
// Путь обязан лежать внутри каталога хранилища.
func (s DirStore) Read(path string) ([]byte, error) {
	dir, err := filepath.Abs(s.Dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(abs, dir+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactOutsideDir, path)
	}
	return os.ReadFile(abs)
}

type fileArtifact struct {
	*os.File
}

func (a *fileArtifact) Path() string {
	return a.Name()
}

// artifactName строит имя файла: имя шага + случайный суффикс.
func artifactName(step, suffix string) string {
	return step + "_" + suffix + ".log"
}

// formatTime форматирует время для артефакта.
func formatTime(t time.Time) string {
	return t.UTC().Format(LogTimeLayout)
}

// writeHeader пишет заголовок артефакта: шаг, стадию, время старта и пустую строку.
func writeHeader(w io.Writer, step, stage string, start time.Time) error {
	_, err := fmt.Fprintf(w, "Step: %s\nStage: %s\nStart: %s\n\n", step, stage, formatTime(start))
	return err
}

// writeBody пишет вывод команды и время завершения.
// Секция ERROR: появляется только при непустом stderr.
func writeBody(w io.Writer, stdout, stderr []byte, end time.Time) error {
	var buf bytes.Buffer
	buf.Write(stdout)
	if len(stderr) > 0 {
		buf.WriteString("\nERROR:\n")
		buf.Write(stderr)
	}
	fmt.Fprintf(&buf, "\nEnd: %s\n", formatTime(end))

	_, err := w.Write(buf.Bytes())
	return err
}
