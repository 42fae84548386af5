// Command dmail is a private messaging engine: it stores per-user message
// copies, classifies spam, bans repeat spammers and serves a JSON API for a
// platform frontend.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/kagami/dmail/dmail-"
	"github.com/kagami/dmail/dmailvar"
	"github.com/kagami/dmail/mlog"
)

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"serve", cmdServe},
	{"config test", cmdConfigTest},
	{"config describe", cmdConfigDescribe},
	{"loglevels", cmdLoglevels},
	{"backup", cmdBackup},
	{"verifydata", cmdVerifydata},
	{"gentestdata", cmdGentestdata},
	{"version", cmdVersion},
	{"help", cmdHelp},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	unlisted bool   // If set, command is not listed until at least some words are matched from command.
	params   string // Arguments to command. Multiple lines possible.
	help     string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args     []string

	log *mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we just run the command but cause this
	// panic after the command has registered its flags and set its params and help
	// information. This is then caught and that info printed.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("dmail "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "dmail " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) printUsage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
}

func (c *cmd) Usage() {
	c.printUsage()
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		line := "dmail " + strings.Join(c.words, " ")
		fmt.Printf("%s\n", line)
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func usage(l []cmd, unlisted bool) {
	var lines []string
	if !unlisted {
		lines = append(lines, "dmail [-config dmail.conf] ...")
	}
	for _, c := range l {
		c.gather()
		if c.unlisted && !unlisted {
			continue
		}
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"dmail"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

func main() {
	log.SetFlags(0)

	flag.StringVar(&dmail.ConfigPath, "config", envString("DMAILCONF", filepath.FromSlash("dmail.conf")), "configuration file, defaults to $DMAILCONF with a fallback to dmail.conf")
	flag.Usage = func() { usage(cmds, false) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds, false)
	}

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("dmail "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""))
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial, true)
	}
	usage(cmds, false)
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

func cmdVersion(c *cmd) {
	c.help = "Prints this dmail version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(dmailvar.Version)
}

func cmdLoglevels(c *cmd) {
	c.help = `Print the active log levels from the configuration file.`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	dmail.MustLoadConfig()
	fmt.Printf("(default): %s\n", dmail.Conf.LogLevel)
}

func cmdConfigTest(c *cmd) {
	c.help = `Parses and validates the configuration file.

If valid, the command exits with status 0. If invalid, all errors encountered
are printed.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	if err := dmail.LoadConfig(); err != nil {
		log.Fatalf("%s", err)
	}
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.help = `Prints an annotated empty configuration file.`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	err := dmail.WriteExampleConfig(os.Stdout)
	xcheckf(err, "writing example config")
}
