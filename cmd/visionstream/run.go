package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdougie/visionstream/internal/media"
	"github.com/bdougie/visionstream/internal/uploader"
)

func newRunCmd() *cobra.Command {
	var videoPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one video and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runVideo(ctx, videoPath)
		},
	}
	cmd.Flags().StringVar(&videoPath, "video", "", "path or http(s) URL of the video")
	cmd.MarkFlagRequired("video")
	return cmd
}

func runVideo(ctx context.Context, videoPath string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var file *media.File
	if strings.HasPrefix(videoPath, "http://") || strings.HasPrefix(videoPath, "https://") {
		file, err = media.FromURL(videoPath)
	} else {
		file, err = media.Open(videoPath)
	}
	if err != nil {
		return err
	}

	if err := a.session.Connect(ctx); err != nil {
		return err
	}

	if a.uploader != nil {
		file, err = uploader.Stage(ctx, a.uploader, file, a.cfg.Upload.Preset, a.journal)
		if err != nil {
			return err
		}
	}

	fmt.Printf("Processing video: '%s'\n", videoPath)
	url, err := a.processor.ProcessVideo(ctx, file)
	if err != nil {
		return err
	}

	counters := a.session.Counters()
	fmt.Printf("Civilians: %d\nSoldiers: %d\n", counters.Civilians, counters.Soldiers)
	if url == "" {
		fmt.Println("Job finished without a processed video.")
		return nil
	}
	fmt.Printf("Processed video: %s\n", url)
	return nil
}
