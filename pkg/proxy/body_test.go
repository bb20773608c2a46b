package proxy

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrepareRequestBody(t *testing.T) {
	t.Run("no body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		b, err := PrepareRequestBody(r)
		if err != nil {
			t.Fatalf("PrepareRequestBody() error = %v", err)
		}
		if b.Len() != 0 {
			t.Errorf("Len() = %d, want 0", b.Len())
		}
		data, _ := io.ReadAll(b.NewStream())
		if len(data) != 0 {
			t.Errorf("stream = %q", data)
		}
	})

	t.Run("body captured", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("payload"))
		b, err := PrepareRequestBody(r)
		if err != nil {
			t.Fatalf("PrepareRequestBody() error = %v", err)
		}
		if string(b.Bytes()) != "payload" {
			t.Errorf("Bytes() = %q", b.Bytes())
		}
	})

	t.Run("limit exceeded", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("0123456789"))
		r.Body = http.MaxBytesReader(nil, r.Body, 4)
		_, err := PrepareRequestBody(r)
		var tooLarge *RequestTooLargeError
		if !errors.As(err, &tooLarge) {
			t.Fatalf("error = %v, want *RequestTooLargeError", err)
		}
		if tooLarge.Limit != 4 {
			t.Errorf("Limit = %d", tooLarge.Limit)
		}
	})
}

func TestBufferedBody_StreamsAreIndependent(t *testing.T) {
	b := NewBufferedBody([]byte("hello world"))

	s1 := b.NewStream()
	s2 := b.NewStream()

	head := make([]byte, 5)
	if _, err := io.ReadFull(s1, head); err != nil {
		t.Fatal(err)
	}
	all2, _ := io.ReadAll(s2)
	rest1, _ := io.ReadAll(s1)

	if string(head) != "hello" || string(rest1) != " world" {
		t.Errorf("first stream read %q then %q", head, rest1)
	}
	if string(all2) != "hello world" {
		t.Errorf("second stream read %q", all2)
	}
	if err := s1.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	all3, _ := io.ReadAll(b.NewStream())
	if string(all3) != "hello world" {
		t.Errorf("stream after close read %q", all3)
	}
}
