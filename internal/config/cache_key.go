package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// PacketQuestionsKey returns the cache key for a packet's redacted question
// list at the given generation
func (r *CacheKeyStruct) PacketQuestionsKey(packetID string, gen int64) string {
	return fmt.Sprintf("packet:%s:questions:v%d", packetID, gen)
}

// PacketQuestionsGenKey returns the counter bumped on every authoring change to a packet
func (r *CacheKeyStruct) PacketQuestionsGenKey(packetID string) string {
	return fmt.Sprintf("packet:%s:questions:gen", packetID)
}

// PacketMonitorChannel returns the Redis PubSub channel name for a packet's live monitor
func (r *CacheKeyStruct) PacketMonitorChannel(packetID string) string {
	return fmt.Sprintf("packet:%s:monitor", packetID)
}

var CacheKey = NewCacheKeyStruct()
