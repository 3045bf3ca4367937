package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/cascadadb/cascadadb"
)

// REPL is the interactive command loop over an open DB, modeled on
// cmd/sloty's liner-backed REPL for the slotcache CLI.
type REPL struct {
	db    *cascadadb.DB
	dir   string
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cascadadb_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("cascadadb - %s\n", r.dir)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("cascadadb> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil

		case "help", "?":
			r.printHelp()

		case "put", "set":
			r.cmdPut(args)

		case "get":
			r.cmdGet(args)

		case "del", "delete", "rm":
			r.cmdDel(args)

		case "flush":
			r.db.Flush()
			fmt.Println("flushed")

		case "stats", "status":
			r.cmdStats()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		case "bulk":
			r.cmdBulk(args)

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"put", "get", "del", "flush", "stats", "bulk", "help", "exit"}
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  put <key> <value>   Insert or update a key
  get <key>           Retrieve a key's value
  del <key>           Delete a key
  flush               Force a synchronous write-back of dirty nodes
  stats               Show engine status counters
  bulk <count> [prefix]  Insert count sequential keys <prefix><n>
  help                Show this help
  exit / quit / q     Exit`)
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	key, val := args[0], strings.Join(args[1:], " ")
	if err := r.db.Put([]byte(key), []byte(val)); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (r *REPL) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")
		return
	}
	val, ok, err := r.db.Get([]byte(args[0]))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !ok {
		fmt.Println("(not found)")
		return
	}
	fmt.Println(string(val))
}

func (r *REPL) cmdDel(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: del <key>")
		return
	}
	if err := r.db.Del([]byte(args[0])); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (r *REPL) cmdStats() {
	s := r.db.Status()
	fmt.Printf("inner:   split=%d cascade=%d created=%d add_pivot=%d rm_pivot=%d\n",
		s.InnerNodeSplitNum, s.InnerNodeCascadeNum, s.InnerNodeCreatedNum, s.InnerNodeAddPivotNum, s.InnerNodeRmPivotNum)
	fmt.Printf("leaf:    split=%d merge=%d cascade=%d created=%d\n",
		s.LeafSplitNum, s.LeafMergeNum, s.LeafCascadeNum, s.LeafCreatedNum)
	fmt.Printf("cache:   put=%d get=%d evict=%d writeback=%d\n",
		s.CachePutNum, s.CacheGetNum, s.CacheEvictNum, s.CacheWritebackNum)
	fmt.Printf("block:   read=%d subblock_read=%d\n", s.BlockReadNum, s.BlockSubblockReadNum)
	fmt.Printf("async:   write_num=%d write_byte=%d\n", s.AsyncWriteNum, s.AsyncWriteByte)
	fmt.Printf("tree:    pileup=%d collapse=%d\n", s.TreePileupNum, s.TreeCollapseNum)
	fmt.Printf("load:    from_disk=%d from_mem=%d\n", s.NodeLoadFromDiskNum, s.NodeLoadFromMemNum)
}

func (r *REPL) cmdBulk(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: bulk <count> [prefix]")
		return
	}
	count, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("error: invalid count:", err)
		return
	}
	prefix := "key"
	if len(args) >= 2 {
		prefix = args[1]
	}
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		if err := r.db.Put([]byte(key), []byte(key+"-value")); err != nil {
			fmt.Println("error at", key, ":", err)
			return
		}
	}
	fmt.Printf("inserted %d keys\n", count)
}
