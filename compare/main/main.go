// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	log "github.com/inconshreveable/log15"

	"github.com/sidechain-labs/sscvm/client"
	"github.com/sidechain-labs/sscvm/compare"
)

const (
	localURIKey     = "local-uri"
	referenceURIKey = "reference-uri"
	contractsKey    = "contracts"
	pageSizeKey     = "page-size"
)

func buildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)

	fs.String(localURIKey, "http://127.0.0.1:5000/rpc", "JSON-RPC endpoint of the checked node")
	fs.String(referenceURIKey, "", "JSON-RPC endpoint of the reference node")
	fs.String(contractsKey, strings.Join(compare.DefaultContracts, ","), "Comma separated contracts to compare")
	fs.Int(pageSizeKey, compare.DefaultPageSize, "Rows fetched per request")

	return fs
}

// getViper returns the viper environment for the compare binary
func getViper() (*viper.Viper, error) {
	v := viper.New()

	fs := buildFlagSet()
	pflag.CommandLine.AddGoFlagSet(fs)
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	return v, nil
}

func main() {
	v, err := getViper()
	if err != nil {
		fmt.Printf("couldn't get config: %s\n", err)
		os.Exit(1)
	}
	if v.GetString(referenceURIKey) == "" {
		fmt.Printf("--%s is required\n", referenceURIKey)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comparer := compare.New(
		client.New(v.GetString(localURIKey)),
		client.New(v.GetString(referenceURIKey)),
		v.GetInt(pageSizeKey),
	)
	mismatches, err := comparer.Run(ctx, strings.Split(v.GetString(contractsKey), ","))
	if err != nil {
		log.Error("compare failed", "err", err)
		os.Exit(1)
	}
	for _, m := range mismatches {
		fmt.Println(m)
	}
	if len(mismatches) > 0 {
		os.Exit(2)
	}
	log.Info("nodes hold the same data")
}
