// Copyright 2025 The Lumen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	lumen "github.com/lumensearch/lumen"
	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/ingest"
	"github.com/lumensearch/lumen/pkg/logger"
	"github.com/lumensearch/lumen/pkg/runtime"
	"github.com/lumensearch/lumen/pkg/server"
	"github.com/lumensearch/lumen/pkg/workflow"
)

func buildServices(ctx context.Context, cli *CLI) (*runtime.Services, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	return runtime.New(ctx, cfg)
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ServeCmd runs the HTTP server until interrupted.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	services, err := buildServices(ctx, cli)
	if err != nil {
		return err
	}
	defer services.Close()
	services.Start(ctx)

	srv := server.New(services)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	logger.GetLogger().Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// IndexCmd indexes one directory and prints a per-file report.
type IndexCmd struct {
	Directory string `arg:"" help:"Directory to index." type:"existingdir"`
	Watch     bool   `help:"Keep watching the directory after the initial pass."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	services, err := buildServices(ctx, cli)
	if err != nil {
		return err
	}
	defer services.Close()
	services.Start(ctx)

	report, err := services.Ingest.IndexDirectory(ctx, c.Directory, func(p ingest.Progress) {
		line := fmt.Sprintf("[%s] %s %s", p.Position, p.Status, p.CurrentFile)
		if p.Error != "" {
			line += " (" + p.Error + ")"
		}
		fmt.Println(line)
	})
	if err != nil {
		return err
	}
	fmt.Printf("\nindexed %d, skipped %d, failed %d in %s\n",
		report.Success, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))

	if !c.Watch {
		return nil
	}
	if err := services.Watcher.AddPath(c.Directory); err != nil {
		return err
	}
	if err := services.Watcher.Enable(ctx); err != nil {
		return err
	}
	fmt.Println("watching for changes, ctrl-c to stop")
	<-ctx.Done()
	return nil
}

// SearchCmd runs one query and streams the answer to stdout.
type SearchCmd struct {
	Query     string   `arg:"" help:"The question to answer."`
	TopK      int      `help:"Number of results to retrieve." default:"0"`
	User      string   `help:"User id for personalized retrieval."`
	Session   string   `help:"Session id for conversational context."`
	Attach    []string `help:"Attached document ids."`
	ShowSteps bool     `help:"Print workflow steps as they happen."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	services, err := buildServices(ctx, cli)
	if err != nil {
		return err
	}
	defer services.Close()

	events, err := services.Engine.Process(ctx, &workflow.Request{
		Query:             c.Query,
		UserID:            c.User,
		SessionID:         c.Session,
		AttachedDocuments: c.Attach,
		TopK:              c.TopK,
	})
	if err != nil {
		return err
	}

	for event := range events {
		switch event.Type {
		case workflow.EventStep:
			if c.ShowSteps {
				if step, ok := event.Data.(workflow.Step); ok {
					fmt.Fprintf(os.Stderr, "· %s: %s\n", step.Stage, step.Action)
				}
			}
		case workflow.EventAnswerChunk:
			if chunk, ok := event.Data.(string); ok {
				fmt.Print(chunk)
			}
		case workflow.EventError:
			if payload, ok := event.Data.(workflow.ErrorPayload); ok {
				return fmt.Errorf("%s: %s", payload.Kind, payload.Message)
			}
		case workflow.EventComplete:
			if final, ok := event.Data.(*workflow.FinalResult); ok {
				fmt.Printf("\n\nconfidence %.2f, %d results, %s\n",
					final.Confidence, len(final.Results), final.TotalTime.Round(time.Millisecond))
				for _, res := range final.Results {
					fmt.Printf("  %s (%.3f)\n", res.Filename, res.Score)
				}
			}
		}
	}
	return nil
}

// WatchCmd watches directories without an initial indexing pass.
type WatchCmd struct {
	Paths []string `arg:"" help:"Directories to watch." type:"existingdir"`
}

func (c *WatchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	services, err := buildServices(ctx, cli)
	if err != nil {
		return err
	}
	defer services.Close()
	services.Start(ctx)

	for _, path := range c.Paths {
		if err := services.Watcher.AddPath(path); err != nil {
			return err
		}
	}
	if err := services.Watcher.Enable(ctx); err != nil {
		return err
	}
	fmt.Printf("watching %d directories, ctrl-c to stop\n", len(c.Paths))
	<-ctx.Done()
	return nil
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Println(lumen.GetVersion().String())
	return nil
}
