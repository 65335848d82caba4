package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/security"
)

const (
	graphUsersPath = "/v1.0/users?$select=id,displayName,mail,jobTitle"
	// maxGraphPages はページングを打ち切る上限。
	maxGraphPages = 200
	graphTimeout  = 30 * time.Second
)

// GraphConfig は Entra ID（Microsoft Graph）への接続設定。
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	AuthorityURL string // 例: https://login.microsoftonline.com
	GraphBaseURL string // 例: https://graph.microsoft.com
}

// GraphClient はクライアント資格情報フローで Microsoft Graph のユーザー一覧を取得する。
type GraphClient struct {
	config     GraphConfig
	httpClient *http.Client
	validate   func(rawURL string) error
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewGraphClient はGraphClientを生成する。送信はすべてSSRF対策済みクライアントを経由する。
func NewGraphClient(config GraphConfig, guard security.OutboundGuardService) *GraphClient {
	config.AuthorityURL = strings.TrimRight(config.AuthorityURL, "/")
	config.GraphBaseURL = strings.TrimRight(config.GraphBaseURL, "/")
	return &GraphClient{
		config:     config,
		httpClient: guard.NewSafeClient(graphTimeout),
		validate:   guard.ValidateURL,
		sleep:      sleepContext,
	}
}

func (c *GraphClient) tokenURL() string {
	return c.config.AuthorityURL + "/" + c.config.TenantID + "/oauth2/v2.0/token"
}

type graphUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	JobTitle    string `json:"jobTitle"`
}

type graphUsersPage struct {
	Value    []graphUser `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// FetchUsers は全ユーザーを取得する。メールアドレスのないユーザーは除外する。
func (c *GraphClient) FetchUsers(ctx context.Context) ([]*model.Employee, error) {
	tokenURL := c.tokenURL()
	if err := c.validate(tokenURL); err != nil {
		return nil, fmt.Errorf("token URL rejected: %w", err)
	}

	cc := clientcredentials.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{c.config.GraphBaseURL + "/.default"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))

	var employees []*model.Employee
	next := c.config.GraphBaseURL + graphUsersPath
	for page := 0; next != ""; page++ {
		if page >= maxGraphPages {
			return nil, fmt.Errorf("graph paging exceeded %d pages", maxGraphPages)
		}
		if err := c.validate(next); err != nil {
			return nil, fmt.Errorf("graph URL rejected: %w", err)
		}

		result, err := c.fetchPage(ctx, client, next)
		if err != nil {
			return nil, err
		}
		for _, u := range result.Value {
			mail := strings.TrimSpace(u.Mail)
			if mail == "" {
				continue
			}
			employees = append(employees, &model.Employee{
				ID:          uuid.New().String(),
				DisplayName: strings.TrimSpace(u.DisplayName),
				Email:       mail,
				JobTitle:    strings.TrimSpace(u.JobTitle),
				AzureADID:   u.ID,
			})
		}
		next = result.NextLink
	}
	return employees, nil
}

// fetchPage は1ページを取得する。スロットリングと一時障害は待ってから再試行する。
func (c *GraphClient) fetchPage(ctx context.Context, client *http.Client, pageURL string) (*graphUsersPage, error) {
	var lastErr error
	for attempt := 0; attempt < maxPageAttempts; attempt++ {
		page, status, retryAfter, err := c.getPage(ctx, client, pageURL)
		if err != nil {
			return nil, err
		}
		switch classifyStatus(status.code) {
		case pageResultOK:
			return page, nil
		case pageResultFail:
			return nil, status.err()
		}

		lastErr = status.err()
		if attempt == maxPageAttempts-1 {
			break
		}
		delay := retryDelay(attempt, retryAfter)
		slog.Warn("Graph APIが一時的に利用できないため再試行します",
			slog.Int("status", status.code),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("graph retry canceled: %w", err)
		}
	}
	return nil, lastErr
}

// pageStatus は200以外の応答の内容。
type pageStatus struct {
	code int
	body string
}

func (s pageStatus) err() error {
	return fmt.Errorf("graph request failed with status %d: %s", s.code, s.body)
}

func (c *GraphClient) getPage(ctx context.Context, client *http.Client, pageURL string) (*graphUsersPage, pageStatus, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, pageStatus{}, "", fmt.Errorf("failed to create graph request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, pageStatus{}, "", fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, pageStatus{}, "", fmt.Errorf("failed to read graph response: %w", err)
	}
	status := pageStatus{code: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		status.body = string(body)
		return nil, status, resp.Header.Get("Retry-After"), nil
	}

	var page graphUsersPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, status, "", fmt.Errorf("failed to parse graph response: %w", err)
	}
	return &page, status, "", nil
}

var _ Syncer = (*GraphClient)(nil)
