// Package restyutil dumps full request/response exchanges to files,
// for eyeballing what the remote actually served when a scrape or a
// signed call goes wrong.
package restyutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Output receives one rendered exchange per completed request.
type Output interface {
	Write(id string, contents string)
}

// DirOutput writes one file per exchange into a directory, wiped on
// construction so every run starts clean.
type DirOutput struct {
	directory string
}

func NewDirOutput(dir string) (DirOutput, error) {
	os.RemoveAll(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return DirOutput{}, err
	}
	return DirOutput{directory: dir}, nil
}

func (o DirOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to record exchange", "id", id, "err", err)
	}
}

// Record attaches the recorder to the client. Exchanges are rendered
// and handed to the output numbered in completion order, starting at 1.
func Record(client *resty.Client, output Output) {
	var counter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
		output.Write(id, renderExchange(res))
		return nil
	})
}
