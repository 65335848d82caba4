package directory

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// pageResult はGraph応答のステータスコードによる分類。
type pageResult int

const (
	// pageResultOK は取得成功（200）。
	pageResultOK pageResult = iota
	// pageResultRetry はスロットリングまたは一時障害（429/5xx）で、待って再試行する。
	pageResultRetry
	// pageResultFail は再試行しても回復しないエラー（401/403/404など）。
	pageResultFail
)

const (
	// maxPageAttempts は1ページあたりの最大試行回数。
	maxPageAttempts = 3
	// initialRetryDelay は指数バックオフの初回遅延。
	initialRetryDelay = time.Second
	// maxRetryDelay はバックオフおよびRetry-Afterの上限。
	maxRetryDelay = 10 * time.Second
)

// classifyStatus はGraph応答のHTTPステータスコードを分類する。
func classifyStatus(statusCode int) pageResult {
	switch {
	case statusCode == http.StatusOK:
		return pageResultOK
	case statusCode == http.StatusTooManyRequests:
		return pageResultRetry
	case statusCode >= 500:
		return pageResultRetry
	default:
		return pageResultFail
	}
}

// retryDelay は失敗回数に基づく待ち時間を返す。
// Retry-After（秒）が指定されていればそれを優先し、いずれも maxRetryDelay で打ち切る。
func retryDelay(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		if d > maxRetryDelay {
			return maxRetryDelay
		}
		return d
	}

	delay := initialRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// sleepContext は d だけ待つ。ctx がキャンセルされた場合はその時点でエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
