package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/ekaya-inc/ekaya-replica/pkg/adapters/source/mssql"     // Register mssql adapter
	_ "github.com/ekaya-inc/ekaya-replica/pkg/adapters/source/postgres"  // Register postgres adapter
	_ "github.com/ekaya-inc/ekaya-replica/pkg/adapters/source/snowflake" // Register snowflake adapter
	_ "github.com/ekaya-inc/ekaya-replica/pkg/adapters/source/sqlite"    // Register sqlite adapter
	_ "github.com/ekaya-inc/ekaya-replica/pkg/adapters/target/postgres"  // Register postgres replica target

	"github.com/ekaya-inc/ekaya-replica/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(Version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
