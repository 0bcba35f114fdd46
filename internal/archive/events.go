package archive

import (
	"fmt"

	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
)

// EventKind identifies a notification raised by an archive file.
type EventKind int

const (
	EventFileFull EventKind = iota
	EventRolloverStart
	EventRolloverComplete
	EventRolloverException
	EventRolloverPreparationStart
	EventRolloverPreparationComplete
	EventRolloverPreparationException
	EventHistoricFileListBuildStart
	EventHistoricFileListBuildComplete
	EventHistoricFileListBuildException
	EventOrphanData
	EventFutureData
	EventOutOfSequenceData
	EventDataReadException
	EventDataWriteException
	EventAlarm
	EventOffloadStart
	EventOffloadProgress
	EventOffloadComplete
	EventOffloadException
)

var eventNames = [...]string{
	EventFileFull:                       "FileFull",
	EventRolloverStart:                  "RolloverStart",
	EventRolloverComplete:               "RolloverComplete",
	EventRolloverException:              "RolloverException",
	EventRolloverPreparationStart:       "RolloverPreparationStart",
	EventRolloverPreparationComplete:    "RolloverPreparationComplete",
	EventRolloverPreparationException:   "RolloverPreparationException",
	EventHistoricFileListBuildStart:     "HistoricFileListBuildStart",
	EventHistoricFileListBuildComplete:  "HistoricFileListBuildComplete",
	EventHistoricFileListBuildException: "HistoricFileListBuildException",
	EventOrphanData:                     "OrphanData",
	EventFutureData:                     "FutureData",
	EventOutOfSequenceData:              "OutOfSequenceData",
	EventDataReadException:              "DataReadException",
	EventDataWriteException:             "DataWriteException",
	EventAlarm:                          "Alarm",
	EventOffloadStart:                   "OffloadStart",
	EventOffloadProgress:                "OffloadProgress",
	EventOffloadComplete:                "OffloadComplete",
	EventOffloadException:               "OffloadException",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a notification about ingestion, rollover or maintenance.
type Event struct {
	Kind        EventKind
	Time        models.TimeTag
	Point       models.DataPoint // set when HasPoint
	HasPoint    bool
	FileName    string
	OperationID string // rollover operation this event belongs to
	Err         error
	Completed   int // progress events
	Total       int
}

// Observer receives archive events. Implementations must not block for long:
// events are delivered on the pipeline goroutines.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// notifier logs every event before handing it to the observer
type notifier struct {
	observer Observer
	logger   *logging.Logger
}

func newNotifier(observer Observer, logger *logging.Logger) *notifier {
	return &notifier{observer: observer, logger: logger}
}

func (n *notifier) notify(ev Event) {
	if ev.Time == 0 {
		ev.Time = models.Now()
	}

	fields := []interface{}{"event", ev.Kind.String()}
	if ev.HasPoint {
		fields = append(fields, "historian_id", ev.Point.HistorianID, "point_time", ev.Point.Time.String())
	}
	if ev.FileName != "" {
		fields = append(fields, "file", ev.FileName)
	}
	if ev.OperationID != "" {
		fields = append(fields, "operation_id", ev.OperationID)
	}
	if ev.Total > 0 {
		fields = append(fields, "completed", ev.Completed, "total", ev.Total)
	}
	if ev.Err != nil {
		fields = append(fields, "error", ev.Err)
	}

	switch ev.Kind {
	case EventRolloverException, EventRolloverPreparationException,
		EventHistoricFileListBuildException, EventDataReadException,
		EventDataWriteException, EventOffloadException:
		n.logger.Error("Archive event", fields...)
	case EventOrphanData, EventFutureData, EventOutOfSequenceData, EventFileFull, EventAlarm:
		n.logger.Warn("Archive event", fields...)
	case EventOffloadProgress:
		n.logger.Debug("Archive event", fields...)
	default:
		n.logger.Info("Archive event", fields...)
	}

	if n.observer != nil {
		n.observer.OnEvent(ev)
	}
}

func (n *notifier) pointEvent(kind EventKind, p models.DataPoint, err error) {
	n.notify(Event{Kind: kind, Point: p, HasPoint: true, Err: err})
}
