package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/wricardo/scratchcard/game/service"
)

var log = logrus.WithField("pkg", "mcp")

// errUnauthorized marks a 401 from the API so the call can log in again.
var errUnauthorized = errors.New("unauthorized")

// Client is a thin MCP client that proxies to the REST API as a player
type Client struct {
	baseURL    string
	password   string
	httpClient *http.Client
	mcpServer  *server.MCPServer

	mu    sync.Mutex
	token string
}

// NewClient creates a new MCP client that calls the REST API at baseURL and
// logs in with the shared player password on first use.
func NewClient(baseURL, playerPassword string) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: playerPassword,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Scratch Card",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Scratch Card - MCP Interface

This is a thin client that proxies all requests to the REST API server.

Each session is a grid of hidden cells numbered 1..N. Take the session lock,
scratch cells one at a time, and keep the lock alive with heartbeats.

AVAILABLE TOOLS:
- list_sessions: List session codes
- game_state: Show the grid of a session
- acquire_lock: Take the session lock (required before revealing)
- heartbeat: Extend the lock
- release_lock: Give the lock back
- reveal: Scratch one cell by index
- game_instructions: Rules and tips`),
	)

	c.registerTools()
}

func sessionParam() mcp.ToolOption {
	return mcp.WithString("session",
		mcp.Required(),
		mcp.Description("Session code"),
	)
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List the codes of all sessions"),
	), c.handleListSessions)

	c.mcpServer.AddTool(mcp.NewTool("game_state",
		mcp.WithDescription("Show the grid of a session: revealed values, hidden cells and the winning values"),
		sessionParam(),
	), c.handleGameState)

	c.mcpServer.AddTool(mcp.NewTool("acquire_lock",
		mcp.WithDescription("Take the lock of a session. Only the lock holder may reveal cells."),
		sessionParam(),
	), c.handleAcquireLock)

	c.mcpServer.AddTool(mcp.NewTool("heartbeat",
		mcp.WithDescription("Extend the lock you hold on a session"),
		sessionParam(),
	), c.handleHeartbeat)

	c.mcpServer.AddTool(mcp.NewTool("release_lock",
		mcp.WithDescription("Release the lock you hold on a session"),
		sessionParam(),
	), c.handleReleaseLock)

	c.mcpServer.AddTool(mcp.NewTool("reveal",
		mcp.WithDescription("Scratch one cell. Revealing an already revealed cell returns its value again."),
		sessionParam(),
		mcp.WithNumber("index",
			mcp.Required(),
			mcp.Description("Cell index, 0-based, row by row"),
		),
	), c.handleReveal)

	c.mcpServer.AddTool(mcp.NewTool("game_instructions",
		mcp.WithDescription("Get the rules of the scratch card game"),
	), c.handleGameInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path, token string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		msg, ok := errResp["error"]
		if !ok {
			msg = fmt.Sprintf("API error: %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", errUnauthorized, msg)
		}
		return errors.New(msg)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.apiCall(ctx, "POST", "/api/player/login", "", map[string]string{"password": c.password}, &resp); err != nil {
		return "", fmt.Errorf("player login: %w", err)
	}
	c.token = resp.Token
	log.Debug("logged in as player")
	return resp.Token, nil
}

// authCall runs an authenticated call, logging in first when there is no
// token and once more if the token was rejected.
func (c *Client) authCall(ctx context.Context, method, path string, body any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.token
	if token == "" {
		var err error
		if token, err = c.login(ctx); err != nil {
			return err
		}
	}

	err := c.apiCall(ctx, method, path, token, body, result)
	if !errors.Is(err, errUnauthorized) {
		return err
	}
	if token, err = c.login(ctx); err != nil {
		return err
	}
	return c.apiCall(ctx, method, path, token, body, result)
}

func sessionPath(code, suffix string) string {
	return "/api/sessions/" + url.PathEscape(code) + suffix
}

// Tool handlers

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp struct {
		Sessions []string `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", "/api/sessions", "", nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(resp.Sessions) == 0 {
		return mcp.NewToolResultText("No sessions"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sessions (%d):\n- %s", len(resp.Sessions), strings.Join(resp.Sessions, "\n- "))), nil
}

func (c *Client) handleGameState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var state service.PublicState
	if err := c.apiCall(ctx, "GET", sessionPath(code, "/state"), "", nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatState(&state)), nil
}

func (c *Client) handleAcquireLock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var info service.LockInfo
	if err := c.authCall(ctx, "POST", sessionPath(code, "/lock"), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatLock("Lock acquired", &info)), nil
}

func (c *Client) handleHeartbeat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var info service.LockInfo
	if err := c.authCall(ctx, "POST", sessionPath(code, "/heartbeat"), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatLock("Lock extended", &info)), nil
}

func (c *Client) handleReleaseLock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := c.authCall(ctx, "DELETE", sessionPath(code, "/lock"), nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Lock on %s released", code)), nil
}

func (c *Client) handleReveal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	index, err := request.RequireInt("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var outcome service.RevealOutcome
	if err := c.authCall(ctx, "POST", sessionPath(code, "/reveal"), map[string]int{"index": index}, &outcome); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatOutcome(&outcome)), nil
}

func (c *Client) handleGameInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(instructions), nil
}

const instructions = `Scratch Card - Instructions

GAME OBJECTIVE:
Every session hides the numbers 1..N in a grid of N cells. Some numbers are
winning values. Scratch cells until you find them.

HOW TO PLAY:
1. list_sessions to find a session code.
2. game_state to see the grid. Hidden cells show as "?".
3. acquire_lock before scratching. One player holds a session at a time.
4. reveal with a 0-based index, counted row by row from the top left.
5. heartbeat regularly while you play. An idle lock expires.
6. release_lock when you are done so others can play.

RULES:
- A revealed cell never changes. Revealing it again returns the same value.
- Winning values only appear after enough cells have been scratched.
- If another player holds the lock, wait for it to expire or be released.

Good luck!`

// Formatting helpers

func gridWidth(size int) int {
	w := int(math.Ceil(math.Sqrt(float64(size))))
	if w < 1 {
		return 1
	}
	return w
}

func formatState(state *service.PublicState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", state.Code)
	fmt.Fprintf(&b, "Revealed: %d/%d\n", state.RevealedCount, state.GridSize)

	winning := make([]string, len(state.WinningValues))
	for i, v := range state.WinningValues {
		winning[i] = fmt.Sprint(v)
	}
	fmt.Fprintf(&b, "Winning values: %s\n", strings.Join(winning, ", "))

	if state.Locked {
		b.WriteString("Lock: held")
		if state.LockExpiresAt != nil {
			fmt.Fprintf(&b, " until %s", state.LockExpiresAt.Format(time.RFC3339))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Lock: free\n")
	}

	b.WriteString("\n")
	b.WriteString(formatGrid(state))
	return b.String()
}

func formatGrid(state *service.PublicState) string {
	width := gridWidth(state.GridSize)
	cell := len(fmt.Sprint(state.GridSize))

	var b strings.Builder
	for i := 0; i < state.GridSize; i++ {
		text := "?"
		if i < len(state.Scratched) && state.Scratched[i] != nil {
			text = fmt.Sprint(*state.Scratched[i])
		}
		fmt.Fprintf(&b, "%*s", cell+1, text)
		if (i+1)%width == 0 || i == state.GridSize-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatLock(prefix string, info *service.LockInfo) string {
	return fmt.Sprintf("%s on %s until %s (ttl %ds, mode %s)",
		prefix, info.Code, info.ExpiresAt.Format(time.RFC3339), info.TTLSeconds, info.Mode)
}

func formatOutcome(o *service.RevealOutcome) string {
	var b strings.Builder
	switch {
	case o.AlreadyRevealed:
		fmt.Fprintf(&b, "Cell %d was already revealed: %d\n", o.Index, o.Value)
	case o.Winning:
		fmt.Fprintf(&b, "Cell %d: %d - WINNING VALUE!\n", o.Index, o.Value)
	default:
		fmt.Fprintf(&b, "Cell %d: %d\n", o.Index, o.Value)
	}
	fmt.Fprintf(&b, "Revealed %d of %d", o.RevealedCount, o.Progress.GridSize)
	if o.LockReleased {
		b.WriteString("\nLock released; acquire it again to keep playing")
	}
	return b.String()
}
