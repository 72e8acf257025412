// Command vncserver runs a standalone RFB server, either mirroring a
// real display or driving a synthetic animated pattern, for manual
// testing against any VNC viewer.
package main

import (
	"math"
	"net"
	"os"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	vnc "github.com/dhlk/vnc"
)

var (
	bindAddress = pflag.StringP("bind", "b", ":5900", "listen on [ip]:port")
	password    = pflag.String("password", "", "require VNC authentication with this password")
	width       = pflag.Int("width", 1280, "framebuffer width when not capturing a display")
	height      = pflag.Int("height", 720, "framebuffer height when not capturing a display")
	capture     = pflag.Bool("capture", false, "stream the primary display instead of a synthetic pattern")
	logLevel    = pflag.String("log-level", "info", "debug, info, warn, or error")
)

func main() {
	pflag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("value", *logLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fbWidth, fbHeight := *width, *height
	if *capture {
		if n := screenshot.NumActiveDisplays(); n < 1 {
			log.Fatal().Msg("no active displays found")
		} else if n > 1 {
			log.Warn().Int("displays", n).Msg("more than one display, only capturing the first")
		}
		bounds := screenshot.GetDisplayBounds(0)
		fbWidth, fbHeight = bounds.Dx(), bounds.Dy()
	}

	ln, err := net.Listen("tcp", *bindAddress)
	if err != nil {
		log.Fatal().Err(err).Str("bind", *bindAddress).Msg("listen failed")
	}

	s := vnc.NewServer(fbWidth, fbHeight)
	if *password != "" {
		s.SetPassword(*password)
	}

	go logEvents(s)

	if *capture {
		go streamCapture(s, fbWidth, fbHeight)
	} else {
		go streamPattern(s, fbWidth, fbHeight)
	}

	log.Info().Str("bind", *bindAddress).Int("width", fbWidth).Int("height", fbHeight).Bool("capture", *capture).Msg("vnc server listening")
	if err := s.Serve(ln); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func logEvents(s *vnc.Server) {
	for ev := range s.Events {
		switch e := ev.(type) {
		case vnc.ClientConnected:
			log.Info().Uint64("client", e.ID).Stringer("addr", e.Address).Msg("client connected")
		case vnc.ClientDisconnected:
			log.Info().Uint64("client", e.ID).Msg("client disconnected")
		case vnc.KeyEvent:
			log.Debug().Uint64("client", e.ClientID).Uint32("key", e.Key).Bool("pressed", e.Pressed).Msg("key event")
		case vnc.PointerEvent:
			log.Debug().Uint64("client", e.ClientID).Uint16("x", e.X).Uint16("y", e.Y).Uint8("buttons", e.ButtonMask).Msg("pointer event")
		case vnc.ClipboardReceived:
			log.Debug().Uint64("client", e.ClientID).Int("len", len(e.Text)).Msg("clipboard received")
		}
	}
}

func streamCapture(s *vnc.Server, width, height int) {
	tick := time.NewTicker(time.Second / 30)
	defer tick.Stop()
	for range tick.C {
		img, err := screenshot.CaptureDisplay(0)
		if err != nil {
			log.Warn().Err(err).Msg("display capture failed")
			continue
		}
		if err := s.UpdateFramebuffer(img.Pix, 0, 0, width, height); err != nil {
			log.Warn().Err(err).Msg("framebuffer update failed")
		}
	}
}

// streamPattern drives the framebuffer with an animated border pattern
// when there is no real display to mirror, so the server is exercisable
// without capture permissions.
func streamPattern(s *vnc.Server, width, height int) {
	tick := time.NewTicker(time.Second / 30)
	defer tick.Stop()
	pixels := make([]byte, width*height*4)
	for anim := 0; ; anim++ {
		<-tick.C
		drawPattern(pixels, width, height, anim)
		if err := s.UpdateFramebuffer(pixels, 0, 0, width, height); err != nil {
			log.Warn().Err(err).Msg("framebuffer update failed")
		}
	}
}

func drawPattern(pixels []byte, width, height, anim int) {
	const border = 50
	pos := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var r, g, b uint8
			switch {
			case x < border*5/2 && x < int((1.1+math.Sin(float64(y+anim*2)/40))*border):
				r = 255
			case x > width-border*5/2 && x > width-int((1.1+math.Sin(math.Pi+float64(y+anim*2)/40))*border):
				g = 255
			case y < border*5/2 && y < int((1.1+math.Sin(float64(x+anim*2)/40))*border):
				r, g = 255, 255
			case y > height-border*5/2 && y > height-int((1.1+math.Sin(math.Pi+float64(x+anim*2)/40))*border):
				b = 255
			default:
				r, g, b = uint8(x+anim), uint8(y+anim), uint8(x+y+anim*3)
			}
			pixels[pos] = r
			pixels[pos+1] = g
			pixels[pos+2] = b
			pixels[pos+3] = 0xFF
			pos += 4
		}
	}
}
