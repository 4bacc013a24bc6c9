package relay

import (
	"github.com/HelloWorldSungin/claude-strategist/internal/config"
	"github.com/HelloWorldSungin/claude-strategist/internal/executor"
)

// CommandsFromConfig derives the per-class commands. Constrained tasks go to
// the remote host when one is configured; everything else runs locally.
func CommandsFromConfig(cfg *config.Config) map[Class]Command {
	cmds := make(map[Class]Command, len(Classes))
	for _, class := range Classes {
		name := string(class)
		if class.Constrained() && cfg.Executor.Remote.Enabled() {
			rc := cfg.Executor.Remote
			cmds[class] = Command{
				Target: TargetRemote,
				Spec: executor.Spec{
					Command: rc.Command,
					Args:    append(append([]string(nil), rc.Args...), cfg.Executor.ClassArgs[name]...),
					Dir:     rc.Dir,
					Env:     rc.Env,
					Timeout: cfg.RemoteTimeout(name),
				},
			}
			continue
		}
		lc := cfg.Executor.Local
		cmds[class] = Command{
			Target: TargetLocal,
			Spec: executor.Spec{
				Command: lc.Command,
				Args:    append(append([]string(nil), lc.Args...), cfg.Executor.ClassArgs[name]...),
				Dir:     lc.Dir,
				Env:     lc.Env,
				Timeout: cfg.LocalTimeout(name),
			},
		}
	}
	return cmds
}

// CacheDocsFromConfig maps state.cache_docs onto classes, ignoring unknown keys.
func CacheDocsFromConfig(cfg *config.Config) map[Class]string {
	docs := make(map[Class]string)
	for k, v := range cfg.State.CacheDocs {
		if c, err := ParseClass(k); err == nil && v != "" {
			docs[c] = v
		}
	}
	return docs
}
