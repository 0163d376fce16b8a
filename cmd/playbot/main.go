// Command playbot plays a session through the REST API like a browser
// would: log in as a player, take the lock, keep it alive with heartbeats
// and scratch every hidden cell in random order.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/scratchcard/game/service"
)

var log = logrus.WithField("pkg", "playbot")

// Client talks to the scratch card REST API with a player token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func sessionPath(code, suffix string) string {
	return "/api/sessions/" + url.PathEscape(code) + suffix
}

// Login obtains a player token.
func (c *Client) Login(ctx context.Context, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/player/login", map[string]string{"password": password}, &resp); err != nil {
		return fmt.Errorf("player login: %w", err)
	}
	c.token = resp.Token
	return nil
}

// State fetches the public view of a session.
func (c *Client) State(ctx context.Context, code string) (*service.PublicState, error) {
	var state service.PublicState
	if err := c.do(ctx, http.MethodGet, sessionPath(code, "/state"), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Acquire takes the session lock.
func (c *Client) Acquire(ctx context.Context, code string) (*service.LockInfo, error) {
	var info service.LockInfo
	if err := c.do(ctx, http.MethodPost, sessionPath(code, "/lock"), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Heartbeat extends the session lock.
func (c *Client) Heartbeat(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, sessionPath(code, "/heartbeat"), nil, nil)
}

// Release gives the session lock up.
func (c *Client) Release(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(code, "/lock"), nil, nil)
}

// Reveal scratches one cell.
func (c *Client) Reveal(ctx context.Context, code string, index int) (*service.RevealOutcome, error) {
	var outcome service.RevealOutcome
	if err := c.do(ctx, http.MethodPost, sessionPath(code, "/reveal"), map[string]int{"index": index}, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// Result summarizes one play.
type Result struct {
	Reveals int
	Winners []int
	// FirstWin is the revealed count when the first winning value came out, 0 if none.
	FirstWin int
}

// Bot plays one session to the end.
type Bot struct {
	client    *Client
	code      string
	delay     time.Duration
	heartbeat time.Duration
	rng       *rand.Rand
}

// Play scratches every hidden cell of the session. The lock is held for
// the whole run and released on return.
func (b *Bot) Play(ctx context.Context) (*Result, error) {
	state, err := b.client.State(ctx, b.code)
	if err != nil {
		return nil, err
	}

	info, err := b.client.Acquire(ctx, b.code)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"session": b.code, "holder": info.HolderID, "ttl": info.TTLSeconds}).Info("lock acquired")

	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go b.keepAlive(hbCtx)
	defer func() {
		if err := b.client.Release(context.WithoutCancel(ctx), b.code); err != nil {
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
				log.WithError(err).Warn("failed to release lock")
			}
		}
	}()

	var hidden []int
	for i, revealed := range state.Revealed {
		if !revealed {
			hidden = append(hidden, i)
		}
	}
	b.rng.Shuffle(len(hidden), func(i, j int) { hidden[i], hidden[j] = hidden[j], hidden[i] })

	result := &Result{}
	for _, idx := range hidden {
		outcome, err := b.client.Reveal(ctx, b.code, idx)
		if err != nil {
			return result, fmt.Errorf("reveal %d: %w", idx, err)
		}
		result.Reveals++

		entry := log.WithFields(logrus.Fields{"index": idx, "value": outcome.Value, "revealed": outcome.RevealedCount})
		if outcome.Winning {
			result.Winners = append(result.Winners, outcome.Value)
			if result.FirstWin == 0 {
				result.FirstWin = outcome.RevealedCount
			}
			entry.Info("winning value")
		} else {
			entry.Debug("scratched")
		}

		if outcome.LockReleased {
			if _, err := b.client.Acquire(ctx, b.code); err != nil {
				return result, fmt.Errorf("reacquire lock: %w", err)
			}
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(b.delay):
		}
	}
	return result, nil
}

func (b *Bot) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.client.Heartbeat(ctx, b.code); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("heartbeat failed")
			}
		}
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	client := NewClient(cmd.String("url"))
	if err := client.Login(ctx, cmd.String("password")); err != nil {
		return err
	}

	seed := uint64(time.Now().UnixNano())
	bot := &Bot{
		client:    client,
		code:      cmd.String("session"),
		delay:     cmd.Duration("delay"),
		heartbeat: cmd.Duration("heartbeat"),
		rng:       rand.New(rand.NewPCG(seed, seed>>1)),
	}

	result, err := bot.Play(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("scratched %d cells, winners %v, first win at reveal %d\n", result.Reveals, result.Winners, result.FirstWin)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "playbot",
		Usage: "scratch every cell of a session through the REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "server base URL"},
			&cli.StringFlag{Name: "session", Required: true, Usage: "session code"},
			&cli.StringFlag{Name: "password", Value: "player123", Sources: cli.EnvVars("PLAYER_PASSWORD"), Usage: "player password"},
			&cli.DurationFlag{Name: "delay", Value: 200 * time.Millisecond, Usage: "pause between reveals"},
			&cli.DurationFlag{Name: "heartbeat", Value: 15 * time.Second, Usage: "heartbeat interval"},
			&cli.BoolFlag{Name: "debug", Usage: "log every reveal"},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.WithError(err).Fatal("playbot failed")
	}
}
