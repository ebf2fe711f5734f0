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
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/lumensearch/lumen/pkg/logger"
)

// CLI is the top-level command tree.
type CLI struct {
	Config    string `help:"Path to the YAML config file." short:"c" type:"path" env:"LUMEN_CONFIG"`
	LogLevel  string `help:"Log level: debug, info, warn, error." default:"info" env:"LUMEN_LOG_LEVEL"`
	LogFormat string `help:"Log format: simple or verbose." default:"simple" env:"LUMEN_LOG_FORMAT"`

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP/SSE server."`
	Index   IndexCmd   `cmd:"" help:"Index a directory of documents."`
	Search  SearchCmd  `cmd:"" help:"Run one query and stream the answer."`
	Watch   WatchCmd   `cmd:"" help:"Watch directories and keep the index fresh."`
	Version VersionCmd `cmd:"" help:"Print version information."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("lumen"),
		kong.Description("Local-first semantic document search."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, cli.LogFormat)

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
