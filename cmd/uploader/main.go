package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"floradrop/internal/logging"
	"floradrop/internal/uploader"
	"floradrop/internal/uploader/media"
	"floradrop/internal/uploader/transport"
	"floradrop/internal/uploader/validate"
)

// uploader 命令是上传会话的终端视图：
// 只渲染状态、转发用户意图，不做任何校验或上传逻辑。
func main() {
	var (
		endpoint   = flag.String("endpoint", "http://localhost:8080/photos/", "photo upload endpoint")
		apiKey     = flag.String("api-key", "dev-api-key-123456", "API key sent with uploads")
		maxSize    = flag.Int64("max-size", 10*1024*1024, "max photo size in bytes")
		types      = flag.String("types", "image/jpeg,image/png,image/webp", "accepted mime types, comma separated")
		minWidth   = flag.Int("min-width", 0, "minimum pixel width, 0 disables")
		minHeight  = flag.Int("min-height", 0, "minimum pixel height, 0 disables")
		maxWidth   = flag.Int("max-width", 0, "maximum pixel width, 0 disables")
		maxHeight  = flag.Int("max-height", 0, "maximum pixel height, 0 disables")
		autoUpload = flag.Bool("auto", false, "start the upload as soon as validation passes")
		plantHint  = flag.String("plant-hint", "", "optional plant name sent with the photo")
		logLevel   = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logger := logging.New(*logLevel, true)

	fields := map[string]string{}
	if *plantHint != "" {
		fields["plant_hint"] = *plantHint
	}

	session, err := uploader.NewSession(uploader.Options{
		Validate: validate.Config{
			MaxSizeBytes:     *maxSize,
			AllowedMimeTypes: validate.AllowTypes(strings.Split(*types, ",")...),
			MinWidth:         *minWidth,
			MinHeight:        *minHeight,
			MaxWidth:         *maxWidth,
			MaxHeight:        *maxHeight,
		},
		Transport: &transport.Client{
			Endpoint:  *endpoint,
			APIKey:    *apiKey,
			FieldName: "photo",
		},
		Fields:     fields,
		AutoUpload: *autoUpload,
		Notify:     render,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create upload session")
	}
	defer session.Close()

	fmt.Println("floradrop uploader, type 'help' for commands")
	runLoop(context.Background(), session, bufio.NewScanner(os.Stdin))
}

// runLoop 读取命令并转发给会话，循环在 EOF 或 quit 时结束。
func runLoop(ctx context.Context, session *uploader.Session, scanner *bufio.Scanner) {
	for {
		fmt.Printf("fd [%s]> ", session.Snapshot().Phase)
		if !scanner.Scan() {
			return
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "help":
			fmt.Println("commands: select <path>, upload, status, reset, quit")

		case "select":
			if len(parts) < 2 {
				fmt.Println("usage: select <path>")
				continue
			}
			candidate, err := media.FromFile(parts[1])
			if err != nil {
				fmt.Println("cannot read file:", err)
				continue
			}
			if err := session.Select(ctx, candidate); err != nil {
				fmt.Println("rejected:", err)
			}

		case "upload":
			if err := session.Start(ctx); err != nil {
				fmt.Println("cannot upload:", err)
			}

		case "status":
			render(session.Snapshot())

		case "reset":
			session.Reset()

		case "exit", "quit":
			fmt.Println("bye")
			return

		default:
			fmt.Println("unknown command:", parts[0])
		}

		// 给自动上传的异步进度一点输出时间，避免提示符插在进度中间
		time.Sleep(50 * time.Millisecond)
	}
}

// render 把状态快照渲染为一行终端输出。
func render(snap uploader.Snapshot) {
	switch snap.Phase {
	case uploader.PhaseIdle:
		fmt.Println("· no photo selected")
	case uploader.PhaseValidating:
		fmt.Println("· validating…")
	case uploader.PhaseReady:
		fmt.Printf("· ready: %s (%d bytes)\n", snap.Preview.Candidate.Name, snap.Preview.Candidate.Size)
	case uploader.PhaseUploading:
		fmt.Printf("· uploading %.0f%% (%d/%d bytes)\n",
			snap.Progress.Percent(), snap.Progress.BytesSent, snap.Progress.BytesTotal)
	case uploader.PhaseSucceeded:
		fmt.Printf("· done: id=%s url=%s\n", snap.Result.ID, snap.Result.URL)
	case uploader.PhaseFailed:
		fmt.Println("· failed:", snap.Failure)
	}
}
