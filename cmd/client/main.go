package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/adminease/assistant/internal/audio"
	"github.com/adminease/assistant/internal/client"
	"github.com/adminease/assistant/internal/core"
	"github.com/adminease/assistant/internal/protocol"
	"github.com/adminease/assistant/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags)

	serverURL := flag.String("server", "http://localhost:8080", "Assistant server base URL")
	user := flag.String("user", "", "User id to log in as")
	password := flag.String("password", "", "Password")
	signup := flag.Bool("signup", false, "Create the account before logging in")
	role := flag.String("role", core.RoleEmployee, "Role used when signing up")
	speak := flag.Bool("speak", false, "Play synthesized speech through the default audio device")
	voice := flag.String("voice", "", "Voice name for speech synthesis")
	flag.Parse()

	if *user == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: client -user <id> -password <pw> [-signup] [-speak]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(*serverURL)
	if *signup {
		if err := c.Signup(ctx, *user, *password, *role); err != nil {
			log.Fatalf("Signup failed: %v", err)
		}
	}
	loggedRole, err := c.Login(ctx, *user, *password)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}
	fmt.Printf("Logged in as %s (%s)\n", *user, loggedRole)

	var queue *audio.Queue
	if *speak {
		player, err := audio.NewDevicePlayer()
		if err != nil {
			log.Printf("Audio device unavailable, continuing without speech: %v", err)
		} else {
			defer player.Close()
			queue = audio.New(player, audio.DefaultMaxQueueSize)
			defer queue.Close()
		}
	}

	sessionID, err := c.CreateSession(ctx)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	// Opening turn: the assistant greets first.
	runTurn(ctx, c, queue, client.StreamChatRequest{
		SessionID:    sessionID,
		AutoGreeting: true,
		TTSEnabled:   queue != nil,
		VoiceName:    *voice,
		AudioFormat:  "wav",
	})

	fmt.Println(`Type a message, or a command: /upload <path>, /sheet <url>, /files,
/submit <form_type> <name>, /queue, /approve <form_id>, /reject <form_id>, /quit`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}

		if strings.HasPrefix(line, "/") {
			if err := runCommand(ctx, c, loggedRole, sessionID, line); err != nil {
				fmt.Printf("error: %v\n", err)
			}
			continue
		}

		runTurn(ctx, c, queue, client.StreamChatRequest{
			SessionID:   sessionID,
			Message:     line,
			TTSEnabled:  queue != nil,
			VoiceName:   *voice,
			AudioFormat: "wav",
		})
	}
}

// runTurn streams one assistant turn, printing tokens as they arrive
// and feeding speech chunks to the playback queue. Chunks wait for
// their anchor text to print before playing, so audio never runs ahead
// of the transcript.
func runTurn(ctx context.Context, c *client.Client, queue *audio.Queue, req client.StreamChatRequest) {
	printed := 0
	_, err := c.StreamChat(ctx, req, func(ev protocol.Event) {
		switch e := ev.(type) {
		case protocol.TokenEvent:
			fmt.Print(e.Content)
			printed += len(e.Content)
			if queue != nil {
				queue.ReportTextProgress(printed)
			}
		case protocol.URLEvent:
			fmt.Printf("[link] %s: %s\n", e.LinkText, e.SheetURL)
		case protocol.ExcelEvent:
			for _, u := range e.ExcelFiles {
				fmt.Printf("[file] %s\n", u)
			}
		case protocol.TTSChunkEvent:
			if queue == nil {
				return
			}
			queue.Enqueue(audio.Chunk{
				AudioData:         e.AudioData,
				AudioFormat:       e.AudioFormat,
				Text:              e.Text,
				ChunkIndex:        e.ChunkIndex,
				TextStartPosition: e.TextStartPosition,
				TextEndPosition:   e.TextEndPosition,
				ShouldWaitForText: true,
			})
		case protocol.SuggestionsEvent:
			if len(e.Suggestions) > 0 {
				fmt.Printf("\n(try: %s)\n", strings.Join(e.Suggestions, " | "))
			}
		case protocol.CompleteEvent:
			fmt.Println()
			if e.ShowApprovalAction {
				fmt.Println("(use /submit to file this request)")
			}
		case protocol.ErrorEvent:
			fmt.Printf("\n[error] %s\n", e.Message)
		}
	})
	if err != nil {
		fmt.Printf("\nstream failed: %v\n", err)
		if queue != nil {
			queue.Clear()
		}
	}
}

func runCommand(ctx context.Context, c *client.Client, role, sessionID, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/upload":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /upload <path>")
		}
		result, err := c.UploadFile(ctx, sessionID, fields[1])
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %s: %d rows x %d columns\n",
			result.DataInfo.Filename, result.DataInfo.Rows, result.DataInfo.Columns)
		return nil

	case "/sheet":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /sheet <url>")
		}
		_, err := c.LinkGoogleSheet(ctx, sessionID, fields[1], "")
		if err == nil {
			fmt.Println("Sheet linked")
		}
		return err

	case "/files":
		files, err := c.SessionFiles(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, f := range files {
			marker := " "
			if f.Active {
				marker = "*"
			}
			fmt.Printf("%s %s  %s (%d rows)\n", marker, f.ID, f.OriginalFilename, f.Rows)
		}
		return nil

	case "/submit":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /submit <form_type> <your name>")
		}
		form, err := c.SubmitForm(ctx, fields[1], strings.Join(fields[2:], " "), map[string]string{})
		if err != nil {
			return err
		}
		fmt.Printf("Submitted %s %s, now with %s\n", form.FormType, form.ID, form.StageRole)
		return nil

	case "/queue":
		items, summary, err := c.RoleQueue(ctx, role)
		if err != nil {
			return err
		}
		fmt.Printf("pending %d / approved %d / rejected %d\n", summary.Pending, summary.Approved, summary.Rejected)
		for _, item := range items {
			fmt.Printf("%s  %-22s %-18s %s\n", item.ID, item.FormType, item.DerivedStatus, item.EmployeeName)
		}
		return nil

	case "/approve", "/reject":
		if len(fields) < 2 {
			return fmt.Errorf("usage: %s <form_id>", fields[0])
		}
		status := store.FormStatusApproved
		if fields[0] == "/reject" {
			status = store.FormStatusRejected
		}
		form, err := c.UpdateStatus(ctx, role, fields[1], status)
		if err != nil {
			return err
		}
		fmt.Printf("Form %s is now %s (stage: %s)\n", form.ID, form.Status, form.StageRole)
		return nil

	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}
