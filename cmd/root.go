package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/killallgit/parley/pkg/config"
	"github.com/killallgit/parley/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Terminal client for deep-agent chat sessions",
	Long:  `Parley is a terminal front-end for a deep-agent chat backend: it manages sessions, streams responses token by token, and tracks tool and progress events as they happen.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			return err
		}
		if err := logger.Init(); err != nil {
			return err
		}
		defer logger.Close()

		app, err := newApp(config.Get())
		if err != nil {
			return err
		}

		if viper.GetBool("headless") {
			prompt := viper.GetString("prompt")
			if prompt == "" {
				return fmt.Errorf("headless mode requires --prompt")
			}
			return app.RunOnce(prompt)
		}
		return app.RunInteractive()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", ".parley/settings.yaml", "config file (default is .parley/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().StringP("server", "s", "", "chat backend base URL")
	viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.PersistentFlags().StringP("prompt", "p", "", "send a single prompt and exit (with --headless)")
	viper.BindPFlag("prompt", rootCmd.PersistentFlags().Lookup("prompt"))

	rootCmd.PersistentFlags().BoolP("headless", "H", false, "run a single prompt without the interactive loop (requires --prompt)")
	viper.BindPFlag("headless", rootCmd.PersistentFlags().Lookup("headless"))

	rootCmd.PersistentFlags().Int("agent", 0, "agent id to start a session with when none is selected")
	viper.BindPFlag("agent", rootCmd.PersistentFlags().Lookup("agent"))

	viper.SetDefault("server.url", "http://localhost:8000")
	viper.SetDefault("server.timeout", 0)

	viper.SetDefault("logging.log_file", "./.parley/system.log")
	viper.SetDefault("logging.preserve", true)
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("state.file", "./.parley/state.json")
	viper.SetDefault("hitl.default", false)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./.parley")
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
