package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"meshroom/internal/netx"
	"meshroom/internal/protocol"
	"meshroom/internal/relay"
	"meshroom/internal/room"
	"meshroom/internal/store"
	"meshroom/pkg/types"
)

func main() {
	relayListen := flag.String("relay", "", "run as relay hub on this addr (e.g. :8787) instead of as a peer")
	hub := flag.String("hub", "ws://localhost:8787/ws", "relay hub url")
	name := flag.String("name", "", "display name (persisted)")
	dir := flag.String("dir", "", "data directory (default: user config dir)")
	mem := flag.Bool("mem", false, "use in-memory persistence (throwaway peer)")
	gameID := flag.String("game", "generic", "game id for created rooms")
	maxPlayers := flag.Int("max-players", 4, "max players for created rooms")
	flag.Parse()

	if *relayListen != "" {
		if err := relay.NewServer().ListenAndServe(*relayListen); err != nil {
			fmt.Fprintln(os.Stderr, "relay:", err)
			os.Exit(1)
		}
		return
	}

	var kv store.KV
	if *mem {
		kv = store.NewMemory()
	} else {
		base := *dir
		if base == "" {
			cfg, err := os.UserConfigDir()
			if err != nil {
				fmt.Fprintln(os.Stderr, "resolve config dir:", err)
				os.Exit(1)
			}
			base = filepath.Join(cfg, "meshroom")
		}
		db, err := store.OpenSQLite(base)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open store:", err)
			os.Exit(1)
		}
		kv = db
	}
	st := store.New(kv)
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := room.NewSession(
		netx.NewRelay(*hub),
		st,
		types.RoomConfig{GameID: *gameID, MaxPlayers: *maxPlayers},
		types.DefaultTiming(),
		*name,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "session:", err)
		os.Exit(1)
	}
	s.Start(ctx)
	defer s.Close()

	fmt.Printf("client: %s\n", s.ClientID())
	fmt.Println("type 'help' for commands")
	repl(ctx, s)
}

func repl(ctx context.Context, s *room.Session) {
	sc := bufio.NewScanner(os.Stdin)
	prompt := func() { fmt.Print("> ") }
	prompt()
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			prompt()
			continue
		}
		args := strings.Fields(line)
		switch strings.ToLower(args[0]) {
		case "help":
			printHelp()
		case "whoami":
			fmt.Println("client:", s.ClientID(), "role:", s.Role())
		case "create":
			snap, err := s.CreateRoom(ctx)
			if err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("created room:", snap.Metadata.RoomID)
			}
		case "join":
			// join <roomID> [spectator]
			if len(args) < 2 {
				fmt.Println("usage: join <roomID> [spectator]")
				break
			}
			asSpectator := len(args) > 2 && args[2] == "spectator"
			snap, err := s.JoinRoom(ctx, protocol.RoomID(args[1]), asSpectator)
			if err != nil {
				fmt.Println("join error:", err)
			} else {
				fmt.Printf("joined %s (%d players, %d spectators)\n",
					snap.Metadata.RoomID, len(snap.Metadata.Players), len(snap.Metadata.Spectators))
			}
		case "leave":
			s.Leave()
			fmt.Println("left")
		case "say":
			if len(args) < 2 {
				fmt.Println("usage: say <message>")
				break
			}
			if err := s.SendChat(strings.TrimSpace(strings.TrimPrefix(line, args[0]))); err != nil {
				fmt.Println("error:", err)
			}
		case "move":
			if len(args) < 2 {
				fmt.Println("usage: move <payload>")
				break
			}
			if err := s.SendMove(strings.TrimSpace(strings.TrimPrefix(line, args[0]))); err != nil {
				fmt.Println("error:", err)
			}
		case "role":
			if len(args) < 2 || (args[1] != "player" && args[1] != "spectator") {
				fmt.Println("usage: role player|spectator")
				break
			}
			if err := s.ChangeRole(args[1] == "spectator"); err != nil {
				fmt.Println("error:", err)
			}
		case "room":
			snap, ok := s.Snapshot()
			if !ok {
				fmt.Println("(not in a room)")
				break
			}
			fmt.Printf("room %s v%d epoch=%d host=%s\n",
				snap.Metadata.RoomID, snap.Version, snap.Metadata.HostEpoch, snap.Metadata.HostName)
			for _, p := range snap.Metadata.Players {
				fmt.Printf("- player    %s (%s)\n", p.DisplayName, p.PeerAddress)
			}
			for _, p := range snap.Metadata.Spectators {
				fmt.Printf("- spectator %s (%s)\n", p.DisplayName, p.PeerAddress)
			}
		case "who":
			statuses := s.Presence()
			if len(statuses) == 0 {
				fmt.Println("(no presence data)")
				break
			}
			ids := make([]string, 0, len(statuses))
			for id := range statuses {
				ids = append(ids, string(id))
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("- %s: %s\n", id, statuses[protocol.ClientID(id)])
			}
		case "log":
			for _, m := range s.Messages() {
				who := m.SenderName
				if m.Kind == protocol.MsgSystem {
					who = "*"
				}
				fmt.Printf("[%s] %s\n", who, m.Body)
			}
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command; type 'help'")
		}
		prompt()
	}
}

func printHelp() {
	fmt.Println(`commands:
  create                     create a room and host it
  join <roomID> [spectator]  join a room
  leave                      leave the current room
  say <message>              send a chat message
  move <payload>             send a game move
  role player|spectator      switch role (setup phase only)
  room                       show the current snapshot
  who                        show presence
  log                        show the message log
  whoami                     show identity and role
  quit                       exit`)
}
