// Package process supervises a long-running child process.
//
// It is used to run vcontrold next to the bridge when the daemon is not
// managed by the host system. The supervisor restarts the child with
// exponential backoff, forwards its output to the logger line by line,
// and kills it when a probe keeps failing.
//
//	sup := process.New(process.Config{
//	    Name:             "vcontrold",
//	    Binary:           "/usr/sbin/vcontrold",
//	    Args:             []string{"-n", "-x", "/etc/vcontrold/vcontrold.xml"},
//	    RestartOnFailure: true,
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
