package presentation

import (
	"context"

	"proyektor/internal/config"
	"proyektor/internal/logger"
	"proyektor/internal/models"
)

// Window is a handle on an open display window.
type Window interface {
	Closed() bool
	Focus() error
	Close() error
	Geometry() models.WindowPosition
}

// WindowOpener creates display windows.
type WindowOpener interface {
	Open(ctx context.Context, route string, placement models.WindowPosition) (Window, error)
}

// ScreenProvider lists the monitors a window can be placed on.
type ScreenProvider interface {
	Screens(ctx context.Context) ([]config.Screen, error)
}

// StaticScreens is a fixed screen list, usually from configuration.
type StaticScreens []config.Screen

func (s StaticScreens) Screens(context.Context) ([]config.Screen, error) {
	return s, nil
}

// placeWindow centers the window on the target screen: the screen with the
// given id, or the last one. Without screen information the window gets the
// default 800x600 at the origin.
func placeWindow(screens []config.Screen, screenID *int) models.WindowPosition {
	if len(screens) == 0 {
		return models.DefaultWindowPosition()
	}

	target := screens[len(screens)-1]
	if screenID != nil {
		found := false
		for _, s := range screens {
			if s.ID == *screenID {
				target, found = s, true
				break
			}
		}
		if !found {
			logger.Warn("unknown screen, using last", "screen", *screenID, "screens", len(screens))
		}
	}

	width, height := target.AvailWidth, target.AvailHeight
	if width <= 0 {
		width = target.Width
	}
	if height <= 0 {
		height = target.Height
	}
	if width <= 0 || height <= 0 {
		return models.DefaultWindowPosition()
	}

	return models.WindowPosition{
		X:      target.X + (target.Width-width)/2,
		Y:      target.Y + (target.Height-height)/2,
		Width:  width,
		Height: height,
	}
}
