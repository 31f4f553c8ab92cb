package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/drok-bot/drok/internal/agent"
	"github.com/drok-bot/drok/internal/bus"
	"github.com/drok-bot/drok/internal/channels"
	"github.com/drok-bot/drok/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	chatMessage  string
	chatMediaDir string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot from the terminal",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send a single message and exit")
	chatCmd.Flags().StringVar(&chatMediaDir, "media-dir", "", "Directory for generated images (default: working directory)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov, err := newGeminiProvider(ctx, cfg.Model)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, prov)
	if err != nil {
		return err
	}
	defer rt.close()
	// Replies are printed inline; the dispatcher only drains typing actions.
	go rt.bus.DispatchOutbound(ctx)

	console := channels.NewConsoleChannel(rt.bus, os.Stdin, os.Stdout, os.Getenv("USER"), chatMediaDir)

	if chatMessage != "" {
		return chatTurn(ctx, rt.loop, console, "1", chatMessage)
	}

	printHeader("💬 drok Chat")
	fmt.Println("Type a message, or 'exit' to quit.")
	sc := bufio.NewScanner(os.Stdin)
	for seq := 1; ; seq++ {
		fmt.Print(color.GreenString("you> "))
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			seq--
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := chatTurn(ctx, rt.loop, console, strconv.Itoa(seq), line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}

	usage, calls := rt.usage.Totals()
	fmt.Printf("\n%d provider calls, %d tokens\n", calls, usage.TotalTokens)
	return sc.Err()
}

// chatTurn runs one line through the loop and prints the reply. Run errors
// are reported inline; only a failed write ends the session.
func chatTurn(ctx context.Context, loop *agent.Loop, console *channels.ConsoleChannel, id, text string) error {
	raw := console.Message(id, text)
	action, runErr := loop.OnMessage(ctx, raw)
	if action != nil {
		err := console.Send(ctx, &bus.OutboundMessage{
			Channel:    console.Name(),
			ChannelKey: agent.SessionKey(raw.Platform, raw.ChatID),
			ChatID:     raw.ChatID,
			ReplyTo:    raw.MessageID,
			Action:     *action,
		})
		if err != nil {
			return err
		}
	}
	if runErr != nil {
		fmt.Println(color.YellowString("(%s: %v)", agent.ErrorKind(runErr), runErr))
	}
	return nil
}
