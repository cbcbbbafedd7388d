// Command sipnotify runs one notification unit of work against the shared
// SIP identity and prints the result as JSON.
//
// It plays the host side of the notification extensions:
//
//	sipnotify push --payload push.json
//	sipnotify reply --text "ok!" --peer sip:bob@example.com --local sip:alice@example.com
//	sipnotify seen --metadata notification.json
//
// and the foreground side of the shared container:
//
//	sipnotify main acquire --actor app
//	sipnotify config set app show_msg_in_notification false
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
