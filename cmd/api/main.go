package main

import (
	"context"
	"flag"
	"log"

	"github.com/alecsomers1980/aloe-signs-website/internal/app/bootstrap"
)

func main() {
	configPath := flag.String("config", "configs/default.yaml", "path to the YAML config file")
	flag.Parse()

	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, *configPath)
	if err != nil {
		log.Fatalf("bootstrap api runtime: %v", err)
	}
	if err := runtime.Run(ctx); err != nil {
		log.Fatalf("run api: %v", err)
	}
}
