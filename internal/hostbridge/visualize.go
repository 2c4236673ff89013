package hostbridge

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// regionTaskName is the background task the host runs while converting
// an imported RT structure set into viewer regions.
const regionTaskName = "Region Conversion"

// Visualizer wires freshly imported objects into the host viewer.
type Visualizer struct {
	Viewers  ViewerProvider
	Browser  Browser
	Waiter   CompletionWaiter
	Dispatch Dispatcher
}

// Visualize applies the imported segmentation to a viewer showing the
// result's series, opening one when needed, and focuses the study. A
// host that cannot present a viewer and a completion-wait timeout are
// both soft conditions: logged, not fatal. Everything else is an error.
func (v *Visualizer) Visualize(ctx context.Context, ids []ObjectID) error {
	if len(ids) == 0 {
		return nil
	}

	viewer, ok := v.findOrOpenViewer(ids[0])
	if !ok {
		log.Printf("[hostbridge] host cannot present a viewer, skipping visualization")
		return nil
	}

	var applyErr error
	v.Dispatch.Sync(func() {
		applyErr = viewer.ApplyOverlay(ids)
	})
	if applyErr != nil {
		return fmt.Errorf("applying segmentation overlay: %w", applyErr)
	}

	if err := v.Waiter.AwaitCompletion(ctx, regionTaskName); err != nil {
		if errors.Is(err, ErrWaitTimeout) {
			log.Printf("[hostbridge] region conversion still running after timeout, regions may appear later")
			return nil
		}
		return err
	}

	var refreshErr error
	v.Dispatch.Sync(func() {
		if err := viewer.ReloadROIs(); err != nil {
			refreshErr = fmt.Errorf("reloading regions: %w", err)
			return
		}
		if err := viewer.PersistROIs(); err != nil {
			refreshErr = fmt.Errorf("persisting regions: %w", err)
			return
		}
		if err := v.Browser.SelectStudy(ids[0]); err != nil {
			refreshErr = fmt.Errorf("selecting study: %w", err)
		}
	})
	return refreshErr
}

func (v *Visualizer) findOrOpenViewer(id ObjectID) (Viewer, bool) {
	var viewer Viewer
	var ok bool
	v.Dispatch.Sync(func() {
		viewer, ok = v.Viewers.FindOrOpenViewer(id)
	})
	return viewer, ok
}
