package main

import (
	"context"
	"os"

	"github.com/ralt/repoindex/internal/cli"
	"github.com/ralt/repoindex/internal/models"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logrus.Error(err)
		if models.IsType(err, models.ErrInvalidConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
