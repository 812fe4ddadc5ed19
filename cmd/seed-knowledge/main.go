// Command seed-knowledge uploads a persona's knowledge passages to a running
// API server through POST /admin/knowledge/{personaID}.
//
//	ADMIN_TOKEN=... seed-knowledge persona-knowledge.json
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

const batchSize = 20

type knowledgeFile struct {
	PersonaID string     `json:"persona_id"`
	Documents []document `json:"documents"`
}

type document struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// passages renders each document as "Title\n\nContent", skipping empty ones.
func (k knowledgeFile) passages() []string {
	out := make([]string, 0, len(k.Documents))
	for _, doc := range k.Documents {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		if title := strings.TrimSpace(doc.Title); title != "" {
			content = title + "\n\n" + content
		}
		out = append(out, content)
	}
	return out
}

type seeder struct {
	baseURL string
	token   string
	client  *http.Client
	pause   time.Duration
	logger  *logging.Logger
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: seed-knowledge <knowledge-file.json>")
		os.Exit(2)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		logger.Error("failed to read knowledge file", "error", err)
		os.Exit(1)
	}
	var kf knowledgeFile
	if err := json.Unmarshal(data, &kf); err != nil {
		logger.Error("failed to parse knowledge file", "error", err)
		os.Exit(1)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("API_URL")), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	s := &seeder{
		baseURL: baseURL,
		token:   strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		client:  &http.Client{Timeout: 30 * time.Second},
		pause:   500 * time.Millisecond,
		logger:  logger,
	}
	n, err := s.seed(context.Background(), kf)
	if err != nil {
		logger.Error("knowledge seeding failed", "persona_id", kf.PersonaID, "ingested", n, "error", err)
		os.Exit(1)
	}
	logger.Info("knowledge seeding complete", "persona_id", kf.PersonaID, "ingested", n)
}

// seed uploads passages in batches and returns how many the server stored.
// It stops at the first failed batch.
func (s *seeder) seed(ctx context.Context, kf knowledgeFile) (int, error) {
	if strings.TrimSpace(kf.PersonaID) == "" {
		return 0, errors.New("persona_id is required")
	}
	passages := kf.passages()
	if len(passages) == 0 {
		return 0, errors.New("no documents with content")
	}

	total := 0
	for i := 0; i < len(passages); i += batchSize {
		end := min(i+batchSize, len(passages))
		n, err := s.upload(ctx, kf.PersonaID, passages[i:end])
		if err != nil {
			return total, fmt.Errorf("batch starting at %d: %w", i, err)
		}
		total += n
		s.logger.Info("batch uploaded", "persona_id", kf.PersonaID, "passages", end-i)
		if end < len(passages) && s.pause > 0 {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(s.pause):
			}
		}
	}
	return total, nil
}

func (s *seeder) upload(ctx context.Context, personaID string, batch []string) (int, error) {
	payload, err := json.Marshal(map[string][]string{"passages": batch})
	if err != nil {
		return 0, err
	}
	url := fmt.Sprintf("%s/admin/knowledge/%s", s.baseURL, personaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var result struct {
		Ingested int `json:"ingested"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return result.Ingested, nil
}
