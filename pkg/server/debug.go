package server

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
)

// debugTopic selects one stream of debug output.
type debugTopic uint32

const (
	debugCmd    debugTopic = 1 << iota // player command lines
	debugRPC                           // websocket JSON-RPC calls
	debugAuth                          // token and rate-limit rejections
	debugScript                        // script invocations and their step counts
	debugTick                          // faults in tick handlers
	debugGMCP                          // out-of-band packages

	debugAll = debugCmd | debugRPC | debugAuth | debugScript | debugTick | debugGMCP
)

var debugTopicNames = map[string]debugTopic{
	"cmd":    debugCmd,
	"rpc":    debugRPC,
	"auth":   debugAuth,
	"script": debugScript,
	"tick":   debugTick,
	"gmcp":   debugGMCP,
}

// debugMask holds the enabled topics. Set via -debug or MUSH_DEBUG=true at
// startup and @debug at runtime.
var debugMask atomic.Uint32

// SetDebug enables or disables every debug topic.
func SetDebug(on bool) {
	if on {
		debugMask.Store(uint32(debugAll))
		log.Printf("[DEBUG] debug logging enabled for all topics")
		return
	}
	debugMask.Store(0)
}

// IsDebug reports whether any debug topic is enabled.
func IsDebug() bool {
	return debugMask.Load() != 0
}

// setDebugTopic switches a single topic by name.
func setDebugTopic(name string, on bool) error {
	t, ok := debugTopicNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown debug topic %q (have %s)", name, strings.Join(debugTopicList(), ", "))
	}
	for {
		old := debugMask.Load()
		next := old &^ uint32(t)
		if on {
			next = old | uint32(t)
		}
		if debugMask.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// EnableDebugTopics turns on each named topic, e.g. from a comma-separated
// MUSH_DEBUG_TOPICS value.
func EnableDebugTopics(names []string) error {
	for _, name := range names {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if err := setDebugTopic(name, true); err != nil {
			return err
		}
	}
	return nil
}

// enabledDebugTopics names the topics currently on, sorted.
func enabledDebugTopics() []string {
	mask := debugTopic(debugMask.Load())
	var names []string
	for name, t := range debugTopicNames {
		if mask&t != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func debugTopicList() []string {
	names := make([]string, 0, len(debugTopicNames))
	for name := range debugTopicNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// debugf logs under topic when it is enabled.
func debugf(topic debugTopic, format string, args ...any) {
	if debugTopic(debugMask.Load())&topic == 0 {
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}
