// Command submit sends code to a running test case generator and prints the result.
//
//	submit -file main.py
//	submit -code 'def add(a, b): return a + b' -session demo
//	submit -file main.py -stream
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type result struct {
	NumTestCases string `json:"num_test_cases"`
	TestCases    string `json:"test_cases"`
	SessionID    string `json:"session_id,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

type frame struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	NumTestCases string `json:"num_test_cases,omitempty"`
	TestCases    string `json:"test_cases,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8000", "server base URL")
	code := flag.String("code", "", "inline code to submit")
	file := flag.String("file", "", "path of a source file to upload")
	sessionID := flag.String("session", "", "optional session id to continue a conversation")
	stream := flag.Bool("stream", false, "stream the reply over websocket")
	timeout := flag.Duration("timeout", 2*time.Minute, "request timeout")
	flag.Parse()

	// 1. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		res result
		err error
	)
	if *stream {
		res, err = streamCode(ctx, *addr, *code, *file, *sessionID, os.Stdout)
	} else {
		res, err = postCode(ctx, http.DefaultClient, *addr, *code, *file, *sessionID)
	}
	if err != nil {
		slog.Error("Submission failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Number of test cases: %s\n\n%s\n", res.NumTestCases, res.TestCases)
	if res.SessionID != "" {
		fmt.Printf("\nsession: %s\n", res.SessionID)
	}
}

// postCode sends a multipart request to /upload-and-generate.
func postCode(ctx context.Context, client *http.Client, addr, code, file, sessionID string) (result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if code != "" {
		mw.WriteField("code", code)
	}
	if sessionID != "" {
		mw.WriteField("session_id", sessionID)
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return result{}, fmt.Errorf("failed to read %s: %w", file, err)
		}
		fw, err := mw.CreateFormFile("file", filepath.Base(file))
		if err != nil {
			return result{}, fmt.Errorf("failed to build form: %w", err)
		}
		fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		return result{}, fmt.Errorf("failed to build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(addr, "/")+"/upload-and-generate", &body)
	if err != nil {
		return result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	slog.Info("Submitting code", "addr", addr, "file", file, "session", sessionID)
	resp, err := client.Do(req)
	if err != nil {
		return result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var res result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&res); err != nil {
		return result{}, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return result{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, res.Detail)
	}
	return res, nil
}

// streamCode sends the submission over /ws/generate and echoes chunks to out as they arrive.
func streamCode(ctx context.Context, addr, code, file, sessionID string, out io.Writer) (result, error) {
	u, err := url.Parse(strings.TrimRight(addr, "/") + "/ws/generate")
	if err != nil {
		return result{}, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	msg := map[string]string{"code": code, "session_id": sessionID}
	if file != "" && strings.TrimSpace(code) == "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return result{}, fmt.Errorf("failed to read %s: %w", file, err)
		}
		msg["filename"] = filepath.Base(file)
		msg["content"] = string(data)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return result{}, fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return result{}, fmt.Errorf("failed to send request: %w", err)
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return result{}, fmt.Errorf("stream interrupted: %w", err)
		}
		switch f.Type {
		case "chunk":
			fmt.Fprint(out, f.Text)
		case "result":
			fmt.Fprintln(out)
			return result{NumTestCases: f.NumTestCases, TestCases: f.TestCases, SessionID: f.SessionID}, nil
		case "error":
			return result{}, fmt.Errorf("server error: %s", f.Detail)
		}
	}
}
