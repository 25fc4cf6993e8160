package storagetest

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeObject struct {
	data     []byte
	etag     string
	modified time.Time
}

// FakeS3 is a path-style S3 endpoint that understands GetObject, HeadObject
// and PutObject, enough for the aws-sdk-go-v2 and minio-go drivers. Every
// bucket exists.
type FakeS3 struct {
	URL string

	mu      sync.Mutex
	objects map[string]fakeObject // "bucket/key"
	gets    int
}

type s3Error struct {
	XMLName    xml.Name `xml:"Error"`
	Code       string   `xml:"Code"`
	Message    string   `xml:"Message"`
	Key        string   `xml:"Key,omitempty"`
	BucketName string   `xml:"BucketName,omitempty"`
	RequestID  string   `xml:"RequestId"`
}

// NewFakeS3 starts the endpoint and stops it when the test ends.
func NewFakeS3(t *testing.T) *FakeS3 {
	t.Helper()
	f := &FakeS3{objects: make(map[string]fakeObject)}
	srv := httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(srv.Close)
	f.URL = srv.URL
	return f
}

// Object returns the stored bytes for bucket/key.
func (f *FakeS3) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	return obj.data, ok
}

// Gets counts GetObject requests served, found or not.
func (f *FakeS3) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *FakeS3) serveHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket == "" || key == "" {
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented", "bucket operations are not supported", bucket, key)
		return
	}

	switch r.Method {
	case http.MethodPut:
		f.put(w, r, bucket, key)
	case http.MethodGet, http.MethodHead:
		f.get(w, r, bucket, key)
	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed", bucket, key)
	}
}

func (f *FakeS3) put(w http.ResponseWriter, r *http.Request, bucket, key string) {
	var body io.Reader = r.Body
	if isAWSChunked(r) {
		body = newChunkedReader(r.Body)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "IncompleteBody", err.Error(), bucket, key)
		return
	}

	sum := md5.Sum(data)
	obj := fakeObject{data: data, etag: `"` + hex.EncodeToString(sum[:]) + `"`, modified: time.Now().UTC()}

	f.mu.Lock()
	f.objects[bucket+"/"+key] = obj
	f.mu.Unlock()

	w.Header().Set("ETag", obj.etag)
	w.WriteHeader(http.StatusOK)
}

func (f *FakeS3) get(w http.ResponseWriter, r *http.Request, bucket, key string) {
	f.mu.Lock()
	if r.Method == http.MethodGet {
		f.gets++
	}
	obj, ok := f.objects[bucket+"/"+key]
	f.mu.Unlock()

	if !ok {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeS3Error(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.", bucket, key)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	w.Header().Set("ETag", obj.etag)
	w.Header().Set("Last-Modified", obj.modified.Format(http.TimeFormat))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write(obj.data)
	}
}

func writeS3Error(w http.ResponseWriter, status int, code, message, bucket, key string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	body, _ := xml.Marshal(s3Error{Code: code, Message: message, Key: key, BucketName: bucket, RequestID: "fake"})
	w.Write([]byte(xml.Header))
	w.Write(body)
}

func isAWSChunked(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") ||
		strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked")
}

// chunkedReader decodes aws-chunked bodies: "{hex size}[;ext]\r\n{data}\r\n"
// repeated until a zero-size chunk, followed by optional trailers.
type chunkedReader struct {
	r         *bufio.Reader
	remaining int64
	done      bool
	buf       bytes.Buffer
}

func newChunkedReader(r io.Reader) *chunkedReader {
	return &chunkedReader{r: bufio.NewReader(r)}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	for c.remaining == 0 {
		if c.done {
			return 0, io.EOF
		}
		if err := c.nextChunk(); err != nil {
			return 0, err
		}
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining == 0 && err == nil {
		err = c.skipCRLF()
	}
	return n, err
}

func (c *chunkedReader) nextChunk() error {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read chunk header: %w", err)
	}
	sizeField, _, _ := strings.Cut(strings.TrimSpace(line), ";")
	size, err := strconv.ParseInt(sizeField, 16, 64)
	if err != nil {
		return fmt.Errorf("parse chunk size %q: %w", sizeField, err)
	}
	if size == 0 {
		c.done = true
		// Trailers, if any, are ignored.
		io.Copy(io.Discard, c.r)
		return nil
	}
	c.remaining = size
	return nil
}

func (c *chunkedReader) skipCRLF() error {
	c.buf.Reset()
	for range 2 {
		b, err := c.r.ReadByte()
		if err != nil {
			return fmt.Errorf("read chunk terminator: %w", err)
		}
		c.buf.WriteByte(b)
	}
	if c.buf.String() != "\r\n" {
		return fmt.Errorf("malformed chunk terminator %q", c.buf.String())
	}
	return nil
}
