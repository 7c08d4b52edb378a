package util

import (
	"fmt"

	"github.com/ghetzel/cli"
)

const ApplicationName = `kiln`
const ApplicationSummary = `an embeddable HTTP/1.0 origin server with CGI gateways and pluggable modules`
const ApplicationVersion = `0.9.4`

func Register() []cli.Command {
	return []cli.Command{
		{
			Name:  "version",
			Usage: "Output only the version string and exit",
			Action: func(c *cli.Context) {
				fmt.Println(ApplicationVersion)
			},
		},
	}
}
