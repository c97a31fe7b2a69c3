package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the security status of a running instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, _ := json.Marshal(map[string]string{"method": "security.status"})

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Post("http://"+statusAddr+"/rpc", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("is clawguard serve running on %s? %w", statusAddr, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, data, "", "  "); err != nil {
			fmt.Println(string(data))
			return nil
		}
		fmt.Println(pretty.String())
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "127.0.0.1:8642", "control surface address")
	rootCmd.AddCommand(statusCmd)
}
