package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/guesssenpai/livesync/go/internal/live/channel"
	"github.com/guesssenpai/livesync/go/internal/live/session"
)

const usage = `Commands:
  /ready                       toggle ready
  /react <emoji>               send a reaction
  /timer <sec|-> [run|stop]    set the match timer, - clears it
  /countdown <sec|->           set the lobby countdown, - clears it
  /sync                        ask both servers for fresh state
  /reconnect                   reconnect both channels now
  /state                       print the current state
  /help                        show this help
  /quit                        leave
Any other line is sent as a guess.`

var errUsage = errors.New("usage")

// readLines scans r on its own goroutine. The channel closes at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

type repl struct {
	sess *session.Session
	out  io.Writer
	now  func() time.Time
}

func (r *repl) help() {
	fmt.Fprintln(r.out, usage)
}

// exec runs one input line and reports whether the user asked to quit.
func (r *repl) exec(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := r.sess.SendGuess(line)
		return false, err
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.help()
	case "/ready":
		ready, err := r.sess.ToggleReady()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "ready: %t\n", ready)
	case "/react":
		if len(args) == 0 {
			return false, fmt.Errorf("%w: /react <emoji>", errUsage)
		}
		_, err := r.sess.SendReaction(strings.Join(args, " "))
		return false, err
	case "/timer":
		return false, r.timer(args)
	case "/countdown":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: /countdown <sec|->", errUsage)
		}
		seconds, err := parseSeconds(args[0])
		if err != nil {
			return false, err
		}
		return false, r.sess.SetCountdown(seconds)
	case "/sync":
		return false, r.sess.RequestSync()
	case "/reconnect":
		return false, r.sess.Reconnect()
	case "/state":
		r.printState(r.sess.Snapshot())
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

func (r *repl) timer(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: /timer <sec|-> [run|stop]", errUsage)
	}
	remaining, err := parseSeconds(args[0])
	if err != nil {
		return err
	}
	running := true
	if len(args) == 2 {
		switch args[1] {
		case "run":
		case "stop":
			running = false
		default:
			return fmt.Errorf("%w: /timer <sec|-> [run|stop]", errUsage)
		}
	}
	return r.sess.SetTimer(remaining, running)
}

// parseSeconds reads a non-negative number of seconds; "-" means none.
func parseSeconds(s string) (*int, error) {
	if s == "-" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid seconds %q", s)
	}
	return &n, nil
}

func (r *repl) printState(snap session.Snapshot) {
	fmt.Fprintf(r.out, "player %s  lobby: %s  match: %s", snap.Identity.ID, snap.LobbyStatus, snap.MatchStatus)
	if snap.ReconnectScheduled {
		fmt.Fprint(r.out, "  (reconnecting)")
	}
	if pending := snap.LobbyPending + snap.MatchPending; pending > 0 {
		fmt.Fprintf(r.out, "  queued: %d", pending)
	}
	fmt.Fprintln(r.out)

	if l := snap.Lobby; l != nil {
		fmt.Fprintf(r.out, "lobby %s: %d/%d ready", l.ID, l.ReadyCount(), len(l.Players))
		if l.CountdownSeconds != nil {
			fmt.Fprintf(r.out, ", countdown %ds", *l.CountdownSeconds)
		}
		fmt.Fprintln(r.out)
		for _, p := range l.Players {
			mark := " "
			if p.Ready {
				mark = "✓"
			}
			fmt.Fprintf(r.out, "  [%s] %s\n", mark, displayName(p.DisplayName, p.ID))
		}
	}
	if len(snap.Reactions) > 0 {
		emojis := make([]string, len(snap.Reactions))
		for i, ev := range snap.Reactions {
			emojis[i] = ev.Emoji
		}
		fmt.Fprintf(r.out, "reactions: %s\n", strings.Join(emojis, " "))
	}

	if m := snap.Match; m != nil {
		fmt.Fprintf(r.out, "match %s: %d players, %d guesses", m.ID, len(m.Players), len(m.Guesses))
		if rem := m.Timer.Remaining(r.now()); rem != nil {
			state := "paused"
			if m.Timer.Running {
				state = "running"
			}
			fmt.Fprintf(r.out, ", timer %ds %s", *rem, state)
		}
		fmt.Fprintln(r.out)
		for _, g := range lastN(m.Guesses, 5) {
			suffix := ""
			if g.Optimistic {
				suffix = " (sending)"
			}
			fmt.Fprintf(r.out, "  %s: %s%s\n", g.PlayerID, g.GuessText, suffix)
		}
	}
}

func displayName(name, id string) string {
	if name == "" {
		return id
	}
	return name
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// watch prints connection changes and new guesses and reactions from other
// players until updates closes.
func watch(out io.Writer, self string, updates <-chan session.Snapshot) {
	var lobbyStat, matchStat channel.Status
	offline, primed := true, false
	seen := make(map[string]bool)
	for snap := range updates {
		if snap.LobbyStatus != lobbyStat || snap.MatchStatus != matchStat {
			lobbyStat, matchStat = snap.LobbyStatus, snap.MatchStatus
			if snap.Offline != offline || !primed {
				offline = snap.Offline
				if offline {
					fmt.Fprintf(out, "-- offline (lobby %s, match %s)\n", lobbyStat, matchStat)
				} else {
					fmt.Fprintln(out, "-- connected")
				}
			}
		}

		for _, ev := range snap.Reactions {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			if primed && ev.PlayerID != self {
				fmt.Fprintf(out, "%s reacted %s\n", ev.PlayerID, ev.Emoji)
			}
		}
		if snap.Match != nil {
			for _, g := range snap.Match.Guesses {
				if seen[g.ID] {
					continue
				}
				seen[g.ID] = true
				if primed && g.PlayerID != self {
					fmt.Fprintf(out, "%s guessed %q\n", g.PlayerID, g.GuessText)
				}
			}
		}
		primed = true
	}
}
