package backup

import (
	"fmt"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// ProgressReader wraps an io.Reader with a progress bar
type ProgressReader struct {
	reader io.Reader
	bar    *pb.ProgressBar
}

// NewProgressReader creates a new progress reader
func NewProgressReader(r io.Reader, size int64, description string) *ProgressReader {
	tmpl := fmt.Sprintf(`{{ "%s" }} {{ bar . "[" "=" ">" " " "]"}} {{speed . }} {{percent . }} {{rtime . " ETA"}}`, description)

	bar := pb.New64(size)
	bar.Set(pb.SIBytesPrefix, true)
	bar.SetTemplateString(tmpl)
	bar.SetRefreshRate(100 * time.Millisecond)
	bar.Start()

	return &ProgressReader{
		reader: bar.NewProxyReader(r),
		bar:    bar,
	}
}

// Read implements io.Reader
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	return pr.reader.Read(p)
}

// Close finishes the progress bar
func (pr *ProgressReader) Close() error {
	pr.bar.Finish()
	return nil
}
