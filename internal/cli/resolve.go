package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newResolveCommand(s *streams) *cobra.Command {
	var tz string
	cmd := &cobra.Command{
		Use:   "resolve <time expression>",
		Short: "Show how an alarm time from the backend would be scheduled",
		Example: `  bai resolve 2024-01-02T23:00:00+00:00
  bai resolve "7:30 pm"
  bai resolve --tz UTC 06:15`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(s.err, "text")
			if err != nil {
				return err
			}
			if tz != "" {
				cfg.AlarmTimezone = tz
			}
			resolver, err := newResolver(cfg, logger)
			if err != nil {
				return err
			}

			t, err := resolver.Resolve(args[0])
			if err != nil {
				return err
			}
			if t.HasWeekday() {
				fmt.Fprintf(s.out, "%02d:%02d weekday=%d (%s) zone=%s\n",
					t.Hour, t.Minute, t.Weekday, time.Weekday(t.Weekday-1), resolver.Target())
				return nil
			}
			fmt.Fprintf(s.out, "%02d:%02d\n", t.Hour, t.Minute)
			return nil
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "target timezone (default ALARM_TIMEZONE)")
	return cmd
}

