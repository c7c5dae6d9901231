package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Push はgathererのメトリクスをPushgatewayへ送信する。
// スクレイプされない短命のCLI実行から使う。
func Push(ctx context.Context, gatewayURL, job string, gatherer prometheus.Gatherer) error {
	if err := push.New(gatewayURL, job).Gatherer(gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
