package config

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// Source acquires the raw configuration document. Configuration acquisition
// is treated as an external collaborator; this interface is the narrow
// boundary the gateway actually consumes.
type Source interface {
	Fetch() ([]byte, error)
}

// FileSource reads the configuration document from a local file.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", s.Path, err)
	}
	return data, nil
}

// HTTPSource fetches the configuration document via an HTTP GET.
type HTTPSource struct {
	URL    string
	Client *resty.Client
}

func NewHTTPSource(url string) HTTPSource {
	return HTTPSource{
		URL:    url,
		Client: resty.New().SetTimeout(10 * time.Second),
	}
}

func (s HTTPSource) Fetch() ([]byte, error) {
	resp, err := s.Client.R().Get(s.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch config from %s: %w", s.URL, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch config from %s: status %d", s.URL, resp.StatusCode())
	}
	return resp.Body(), nil
}

func newBytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
