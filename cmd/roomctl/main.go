// Command roomctl administers the users and rooms of a roomcast database
// and issues access tokens.
//
//	roomctl user add <id> [display name]
//	roomctl room add [-private] [-members a,b] [-creator id] <id> <name>
//	roomctl room delete <id>
//	roomctl member add <room> <user>
//	roomctl rooms
//	roomctl history [-limit n] [-user] <room|user>
//	roomctl token [-ttl 24h] <user>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"roomcast/internal/auth"
	"roomcast/internal/config"
	"roomcast/internal/database"
	"roomcast/internal/storage"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

var errUsage = errors.New("usage: roomctl user|room|member|rooms|history|token ...")

func main() {
	_ = godotenv.Load()
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "roomctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if args[0] == "token" {
		return issueToken(cfg, args[1:], out)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := database.NewManager(cfg.DatabaseSettings(), logs.GetLoggerFromLevel(slog.LevelWarn))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	switch command(args) {
	case "user add":
		return addUser(ctx, db, args[2:], out)
	case "room add":
		return addRoom(ctx, db, args[2:], out)
	case "room delete":
		return deleteRoom(ctx, db, args[2:], out)
	case "member add":
		return addMember(ctx, db, args[2:], out)
	case "rooms":
		return listRooms(ctx, db, out)
	case "history":
		return history(ctx, cfg, db, args[1:], out)
	}
	return errUsage
}

// command returns the verb, with its action for the nouns that take one
func command(args []string) string {
	switch args[0] {
	case "user", "room", "member":
		if len(args) < 2 {
			return args[0]
		}
		return args[0] + " " + args[1]
	}
	return args[0]
}

func addUser(ctx context.Context, db *database.Manager, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: roomctl user add <id> [display name]")
	}
	user := &types.User{ID: args[0], DisplayName: strings.Join(args[1:], " ")}
	if !types.IsValidID(user.ID) {
		return types.ErrInvalidUserID
	}
	if err := db.CreateUser(ctx, user); err != nil {
		return err
	}
	fmt.Fprintf(out, "created user %s\n", user.ID)
	return nil
}

func addRoom(ctx context.Context, db *database.Manager, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("room add", flag.ContinueOnError)
	fs.SetOutput(out)
	private := fs.Bool("private", false, "only members may join")
	members := fs.String("members", "", "comma separated user ids")
	creator := fs.String("creator", "", "user id of the creator")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: roomctl room add [-private] [-members a,b] [-creator id] <id> <name>")
	}

	room := &types.Room{
		ID:        fs.Arg(0),
		Name:      strings.Join(fs.Args()[1:], " "),
		IsPrivate: *private,
		CreatedBy: *creator,
		Members: lo.Uniq(lo.Compact(lo.Map(strings.Split(*members, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))),
	}
	if !types.IsValidID(room.ID) {
		return types.ErrInvalidRoomID
	}
	if err := db.CreateRoom(ctx, room); err != nil {
		return err
	}
	fmt.Fprintf(out, "created room %s\n", room.ID)
	return nil
}

func deleteRoom(ctx context.Context, db *database.Manager, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: roomctl room delete <id>")
	}
	if err := db.DeleteRoom(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted room %s\n", args[0])
	return nil
}

func addMember(ctx context.Context, db *database.Manager, args []string, out io.Writer) error {
	if len(args) != 2 {
		return errors.New("usage: roomctl member add <room> <user>")
	}
	if err := db.AddRoomMember(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(out, "added %s to %s\n", args[1], args[0])
	return nil
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func listRooms(ctx context.Context, db *database.Manager, out io.Writer) error {
	rooms, err := db.ListRooms(ctx)
	if err != nil {
		return err
	}
	table := newTable(out, "ID", "Name", "Private", "Members", "Created")
	for _, room := range rooms {
		table.Append([]string{
			room.ID,
			room.Name,
			strconv.FormatBool(room.IsPrivate),
			strings.Join(room.Members, ","),
			room.CreatedAt.Format(time.DateTime),
		})
	}
	table.Render()
	return nil
}

func history(ctx context.Context, cfg *config.Config, db *database.Manager, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(out)
	limit := fs.Int("limit", cfg.Presence.HistoryLimit, "number of messages")
	inbox := fs.Bool("user", false, "show the private messages addressed to a user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: roomctl history [-limit n] [-user] <room|user>")
	}

	var reader interfaces.HistoryReader = db
	if cfg.Storage.MessageStore == config.StoreBadger {
		// The server keeps the directory locked; read alongside it
		store, err := storage.OpenBadgerReader(cfg.Storage.BadgerPath, logs.GetLoggerFromLevel(slog.LevelWarn))
		if err != nil {
			return err
		}
		defer store.Close()
		reader = store
	}

	read := reader.RoomHistory
	if *inbox {
		read = reader.UserHistory
	}
	messages, err := read(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	table := newTable(out, "Time", "From", "To", "ID", "Body")
	for _, message := range messages {
		table.Append([]string{message.Timestamp.Format(time.DateTime), message.FromUser, message.Target(), message.ID, message.Body})
	}
	table.Render()
	return nil
}

func issueToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: roomctl token [-ttl 24h] <user>")
	}
	token, err := auth.GenerateToken(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, fs.Arg(0), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
