// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileName(t *testing.T) {
	testCases := []struct {
		Name     string
		Original string
		Expected string
	}{
		{Name: "simple pdf", Original: "report.pdf", Expected: "report-abc.pdf"},
		{Name: "multiple dots", Original: "report.final.pdf", Expected: "report-abc.pdf"},
		{Name: "no extension", Original: "report", Expected: "report-abc.pdf"},
		{Name: "other extension", Original: "invoice.PDF", Expected: "invoice-abc.PDF"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			if !assert.Equal(t, testCase.Expected, FileName(testCase.Original, "abc")) {
				return
			}
		})
	}
}

func TestClient_Send(t *testing.T) {
	t.Run("will return ErrNotConfigured", func(t *testing.T) {
		t.Run("if no webhook url is configured", func(t *testing.T) {
			c := NewClient()

			_, err := c.Send(context.Background(), Notification{})
			if !assert.ErrorIs(t, err, ErrNotConfigured) {
				return
			}
			if !assert.False(t, c.Configured()) {
				return
			}
		})
	})

	t.Run("will post a multipart form", func(t *testing.T) {
		t.Run("if the webhook is configured", func(t *testing.T) {
			type received struct {
				fileName    string
				contentType string
				data        []byte
				payload     map[string]string
			}
			var got received
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				err := r.ParseMultipartForm(1 << 20)
				if err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				f, fh, err := r.FormFile("file")
				if err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				defer f.Close()
				got.fileName = fh.Filename
				got.contentType = fh.Header.Get("Content-Type")
				got.data, _ = io.ReadAll(f)
				json.Unmarshal([]byte(r.FormValue("payload_json")), &got.payload)
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			c := NewClient(WebhookURL(srv.URL), HTTPClient(srv.Client()))
			status, err := c.Send(context.Background(), Notification{
				FileName: "report-abc.pdf",
				Data:     []byte("%PDF-1.4"),
				Content:  "**DELIVERY NOTICE:** ID abc | Platform discord\n\nhello",
			})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusNoContent, status) {
				return
			}
			if !assert.Equal(t, "report-abc.pdf", got.fileName) {
				return
			}
			if !assert.Equal(t, "application/pdf", got.contentType) {
				return
			}
			if !assert.Equal(t, []byte("%PDF-1.4"), got.data) {
				return
			}
			if !assert.Equal(t, DefaultUsername, got.payload["username"]) {
				return
			}
			if !assert.Equal(t, "**DELIVERY NOTICE:** ID abc | Platform discord\n\nhello", got.payload["content"]) {
				return
			}
		})
	})

	t.Run("will return a StatusError", func(t *testing.T) {
		t.Run("if the webhook responds with a non-2xx status code", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer srv.Close()

			c := NewClient(WebhookURL(srv.URL), HTTPClient(srv.Client()))
			status, err := c.Send(context.Background(), Notification{FileName: "report-abc.pdf"})

			var serr StatusError
			if !assert.ErrorAs(t, err, &serr) {
				return
			}
			if !assert.Equal(t, http.StatusTooManyRequests, serr.StatusCode) {
				return
			}
			if !assert.Equal(t, http.StatusTooManyRequests, status) {
				return
			}
		})
	})
}
