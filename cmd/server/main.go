package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adminease/assistant/internal/api"
	"github.com/adminease/assistant/internal/config"
	"github.com/adminease/assistant/internal/core"
	"github.com/adminease/assistant/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Command line flag for demo data seeding
	seedFlag := flag.Bool("seed", false, "Seed demo users and approval forms, then exit")
	flag.Parse()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService := core.NewLLMService()
	defer llmService.Close()

	// Handle demo seeding if flag is set
	if *seedFlag {
		log.Println("Seeding demo users and approval forms...")
		numSeeded, err := seedDemoData(dbStore)
		if err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		log.Printf("Seeding complete. Created %d records. Exiting.", numSeeded)
		// llmService.Close() and dbStore.Close() will be called by their defers on exit.
		os.Exit(0)
	}

	// Initialize TTS service
	ttsService := core.NewTTSService()
	if !ttsService.Enabled() {
		log.Println("Speech synthesis disabled; chat streams will carry text only")
	}

	// Initialize services
	chatService := core.NewChatService(dbStore, llmService, ttsService)
	approvalService := core.NewApprovalService(dbStore)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, approvalService, ttsService)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,  // Adjusted for potentially slower LLM handshakes
		WriteTimeout: 120 * time.Second, // Streamed turns with TTS can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received
	log.Println("Shutting down server...")

	// Create a context with a timeout for the shutdown.
	// This gives active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel() // Release resources if srv.Shutdown completes before timeout

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// llmService.Close() and dbStore.Close() will be called by their defers.
	log.Println("Server exiting gracefully")
}
