package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// Client 通过 Loki HTTP API 查询进程的运行时日志。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ProcessSelector 返回进程 Pod 的 LogQL 选择器。Pod 名以 Deployment 名为前缀。
func ProcessSelector(app *domain.WlApp, procType string) string {
	prefix := mapper.NamingFor(app.MapperVersion).DeploymentName(app, procType)
	return fmt.Sprintf(`{namespace=%q, pod=~%q}`, app.Namespace(), regexp.QuoteMeta(prefix)+"-.*")
}

// QueryProcessLogs 查询进程在 [start, end] 内的日志，按时间戳排序后拼接。
func (c *Client) QueryProcessLogs(ctx context.Context, app *domain.WlApp, procType string, start, end time.Time, limit int) (string, error) {
	params := url.Values{
		"query":     {ProcessSelector(app, procType)},
		"start":     {strconv.FormatInt(start.UnixNano(), 10)},
		"end":       {strconv.FormatInt(end.UnixNano(), 10)},
		"direction": {"forward"},
		"limit":     {strconv.Itoa(limit)},
	}

	reqURL := c.baseURL + "/loki/api/v1/query_range?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("loki: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("loki: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loki: unexpected status %d", resp.StatusCode)
	}

	var result queryRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("loki: decode response: %w", err)
	}
	if result.Status != "success" {
		return "", fmt.Errorf("loki: query status %q", result.Status)
	}
	return extractLogs(result.Data), nil
}

type queryRangeResponse struct {
	Status string         `json:"status"`
	Data   queryRangeData `json:"data"`
}

type queryRangeData struct {
	ResultType string   `json:"resultType"`
	Result     []stream `json:"result"`
}

type stream struct {
	Labels map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [[timestamp_ns, line], ...]
}

type logEntry struct {
	ts   int64
	pod  string
	line string
}

// extractLogs 合并所有 stream 的日志行，多个 Pod 时在行首标注 Pod 名。
func extractLogs(data queryRangeData) string {
	var entries []logEntry
	for _, s := range data.Result {
		for _, v := range s.Values {
			if len(v) < 2 {
				continue
			}
			ts, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, logEntry{ts: ts, pod: s.Labels["pod"], line: v[1]})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ts < entries[j].ts
	})

	prefixed := len(data.Result) > 1
	var b strings.Builder
	for _, e := range entries {
		if prefixed && e.pod != "" {
			b.WriteString("[" + e.pod + "] ")
		}
		b.WriteString(e.line)
		b.WriteByte('\n')
	}
	return b.String()
}
