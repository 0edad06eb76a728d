package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lewis-group/crystalmace/statusapi"
)

// serveCmd starts the read-only HTTP status server. Grounded on the
// teacher's server.go: cobra command, viper-bound port/debug flags, Gin
// mode selection, startup banner. The document-CRUD route table and
// GitHub-sync-on-startup have no equivalent here — this surface only
// ever reads the store.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only workflow status HTTP server",
	Long: `serve starts the JSON status API (spec.md §4.8): workflow,
material, and calculation state for dashboards and monitoring scripts.
It never mutates the store.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().String("port", "8080", "HTTP listen port")
	serveCmd.Flags().Bool("debug", false, "enable Gin debug mode")
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("debug", serveCmd.Flags().Lookup("debug"))
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Println("failed to load configuration:", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Println("failed to open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	if viper.GetBool("debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := statusapi.New(st)
	router := srv.Router()

	port := viper.GetString("port")
	fmt.Printf("Starting mace status server on port %s\n", port)
	fmt.Printf("Health check: http://localhost:%s/health\n", port)
	fmt.Printf("Workflows: http://localhost:%s/api/workflows\n", port)

	if err := router.Run(":" + port); err != nil {
		fmt.Println("status server stopped:", err)
		os.Exit(1)
	}
}
