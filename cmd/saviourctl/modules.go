package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(modulesCmd)
	modulesCmd.AddCommand(modulesListCmd)
	modulesCmd.AddCommand(modulesShowCmd)
}

var modulesCmd = &cobra.Command{
	Use:     "modules",
	Aliases: []string{"module", "mod"},
	Short:   "Inspect the module fleet",
}

var modulesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "ps"},
	Short:   "List known modules and their current status",
	RunE:    runModulesList,
}

func runModulesList(cmd *cobra.Command, args []string) error {
	var views []moduleView
	if err := newClient().get("/api/v1/modules", &views); err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Println("No modules registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE ID\tNAME\tTYPE\tGROUP\tSTATUS\tONLINE\tLAST HEARTBEAT")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			v.ModuleID, v.Name, v.Type, v.Group, v.Status, v.Online,
			v.LastHeartbeat.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

var modulesShowCmd = &cobra.Command{
	Use:   "show MODULE_ID",
	Short: "Show detailed status for one module",
	Args:  cobra.ExactArgs(1),
	RunE:  runModulesShow,
}

func runModulesShow(cmd *cobra.Command, args []string) error {
	var v moduleView
	if err := newClient().get("/api/v1/modules/"+args[0], &v); err != nil {
		return err
	}
	fmt.Printf("Module ID:     %s\n", v.ModuleID)
	fmt.Printf("Name:          %s\n", v.Name)
	fmt.Printf("Type:          %s\n", v.Type)
	fmt.Printf("Group:         %s\n", v.Group)
	fmt.Printf("Address:       %s:%d\n", v.IP, v.Port)
	fmt.Printf("Status:        %s\n", v.Status)
	fmt.Printf("Online:        %t\n", v.Online)
	fmt.Printf("Last Heartbeat: %s\n", v.LastHeartbeat.Format("2006-01-02 15:04:05"))
	if v.ReadyReason != "" {
		fmt.Printf("Ready Reason:  %s\n", v.ReadyReason)
	}
	return nil
}
