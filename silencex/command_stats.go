package silencex

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// botStats is a point-in-time snapshot of the bot's runtime counters.
type botStats struct {
	Uptime           time.Duration `json:"uptime_seconds"`
	HeapMB           float64       `json:"heap_mb"`
	Guilds           int64         `json:"guilds"`
	CommandsExecuted int64         `json:"commands_executed"`
	ButtonClicks     int64         `json:"button_clicks"`
	SelectMenus      int64         `json:"select_menus"`
	ModalsSubmitted  int64         `json:"modals_submitted"`
	GiftCodesChecked int64         `json:"gift_codes_checked"`
	ChannelsNuked    int64         `json:"channels_nuked"`
	Errors           int64         `json:"errors"`
}

func (x *SilenceX) stats() botStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return botStats{
		Uptime:           time.Since(x.startedAt).Round(time.Second),
		HeapMB:           float64(mem.HeapAlloc) / 1024 / 1024,
		Guilds:           x.discord.guildCount.Load(),
		CommandsExecuted: x.statCommands.Load(),
		ButtonClicks:     x.statButtons.Load(),
		SelectMenus:      x.statSelects.Load(),
		ModalsSubmitted:  x.statModals.Load(),
		GiftCodesChecked: x.statGiftChecks.Load(),
		ChannelsNuked:    x.statNukes.Load(),
		Errors:           x.statErrors.Load(),
	}
}

// commandStats handles `/stats`, showing uptime, memory and usage
// counters.
func (x *SilenceX) commandStats(
	ctx context.Context,
	handler InteractionHandler,
) {
	s := x.stats()
	content := fmt.Sprintf(
		"⏱️ **Uptime:** %s\n"+
			"🧠 **Heap:** %.1f MB\n"+
			"🌐 **Servers:** %d\n\n"+
			"⚡ **Commands executed:** %d\n"+
			"🔘 **Button clicks:** %d\n"+
			"📋 **Select menus:** %d\n"+
			"📝 **Modals submitted:** %d\n"+
			"🎁 **Gift codes checked:** %d\n"+
			"💣 **Channels nuked:** %d\n"+
			"❗ **Errors:** %d\n\n"+
			"🏷️ **Version:** %s",
		s.Uptime,
		s.HeapMB,
		s.Guilds,
		s.CommandsExecuted,
		s.ButtonClicks,
		s.SelectMenus,
		s.ModalsSubmitted,
		s.GiftCodesChecked,
		s.ChannelsNuked,
		s.Errors,
		Version,
	)
	x.editInteractionReply(ctx, handler, "Bot Statistics", content, colorBlurple)
}
