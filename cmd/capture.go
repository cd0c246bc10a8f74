package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/id/uuid"
)

func newCaptureCmd() *cobra.Command {
	var (
		device string
		budget int
	)
	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Capture one site synchronously",
		Long: `Captures the root page of <url> and up to --budget of its same-domain
links, then prints the files written. No job record is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCaptureCommand(cmd, args[0], device, budget)
		},
	}
	cmd.Flags().StringVar(&device, "device", string(capture.DeviceDesktop), "device profile: mobile or desktop")
	cmd.Flags().IntVar(&budget, "budget", -1, "maximum links to capture (default capture.link_budget)")
	return cmd
}

func runCaptureCommand(cmd *cobra.Command, rawURL, rawDevice string, budget int) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	device, err := capture.ParseDevice(rawDevice)
	if err != nil {
		return err
	}
	if budget < 0 {
		budget = appInstance.Config.Capture.LinkBudget
	}

	mirror, err := buildMirror(ctx, appInstance)
	if err != nil {
		return err
	}
	crawler, err := buildCrawler(appInstance, mirror)
	if err != nil {
		return err
	}
	jobID, err := uuid.New().NewID()
	if err != nil {
		return err
	}

	token := capture.NewCancelToken()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			token.Cancel()
		case <-stop:
		}
	}()

	result, err := crawler.Crawl(ctx, capture.CrawlRequest{
		JobID:      jobID,
		URL:        rawURL,
		Device:     device,
		LinkBudget: budget,
		Token:      token,
	})
	out := cmd.OutOrStdout()
	for _, file := range result.Files {
		fmt.Fprintln(out, file)
	}
	if err != nil {
		return fmt.Errorf("capture %s: %w", rawURL, err)
	}
	appInstance.Logger.Info("capture finished",
		zap.String("job_id", jobID),
		zap.String("domain", result.Target.DomainName),
		zap.Int("screenshots", len(result.Files)),
		zap.Int("links_found", result.LinksFound),
		zap.Int("links_failed", result.LinksFailed),
	)
	if result.Canceled {
		return errors.New("capture canceled")
	}
	return nil
}
