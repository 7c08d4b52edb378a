package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ghetzel/cli"
	"github.com/ghetzel/go-stockutil/log"
	"github.com/ghetzel/kiln"
	"github.com/ghetzel/kiln/util"
)

func main() {
	app := cli.NewApp()
	app.Name = kiln.ApplicationName
	app.Usage = kiln.ApplicationSummary
	app.Version = kiln.ApplicationVersion
	app.EnableBashCompletion = true

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   `log-level, L`,
			Usage:  `Level of log output verbosity`,
			Value:  `info`,
			EnvVar: `LOGLEVEL`,
		},
		cli.StringFlag{
			Name:   `config, c`,
			Usage:  `The name of the configuration file to load`,
			Value:  kiln.DefaultConfigFile,
			EnvVar: `KILN_CONFIG`,
		},
		cli.StringFlag{
			Name:  `root, r`,
			Usage: `The working directory relative paths of the configuration are resolved against`,
		},
	}

	app.Before = func(c *cli.Context) error {
		log.SetLevelString(c.String(`log-level`))

		if root := c.String(`root`); root != `` {
			return os.Chdir(root)
		}

		return nil
	}

	app.Commands = append(util.Register(), cli.Command{
		Name:  `remote`,
		Usage: `Send a control command (state, restart or stop) to a running instance`,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:   `address, a`,
				Usage:  `The address of the remote control`,
				Value:  `127.0.0.1:25001`,
				EnvVar: `KILN_REMOTE`,
			},
		},
		Action: func(c *cli.Context) {
			var command = strings.Join(c.Args(), ` `)

			if command == `` {
				command = `state`
			}

			if reply, err := kiln.Call(c.String(`address`), command); err == nil {
				os.Stdout.WriteString(strings.ReplaceAll(reply, "\r\n", "\n") + "\n")
			} else {
				log.Fatalf("remote: %v", err)
			}
		},
	})

	app.Action = func(c *cli.Context) {
		instance, err := kiln.LoadInstance(c.String(`config`))

		if err != nil {
			log.Fatalf("config: %v", err)
		}

		if err := instance.Start(); err != nil {
			log.Fatalf("start: %v", err)
		}

		var signals = make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-signals:
			log.Infof("received %v, stopping", sig)

			if err := instance.Stop(); err != nil {
				log.Errorf("stop: %v", err)
			}
		case <-instance.Done():
		}
	}

	app.Run(os.Args)
}
