package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTrainControllerPowerGateBeforeGainsSet checks that power output
// stays 0 until ApplyEngineerInput has been called at least once.
func TestTrainControllerPowerGateBeforeGainsSet(t *testing.T) {
	c := NewTrainController("G001", "Green")
	modelIn := TrainModelInput{
		ActualSpeedMph: 0,
		NextBlockInfo:  NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: true},
	}
	driverIn := DriverInput{AutoMode: true}

	out := c.Cycle(modelIn, driverIn, nil, 40, 500, 1.0)
	assert.Equal(t, 0.0, out.PowerKw)

	c.ApplyEngineerInput(EngineerInput{Kp: 10, Ki: 1})
	out = c.Cycle(modelIn, driverIn, nil, 40, 500, 1.0)
	assert.Greater(t, out.PowerKw, 0.0)
}

// TestTrainControllerEmergencyLatchRequiresBothToClear checks that the
// brake latches on any of driver/passenger/AUTO condition and releases
// only once the condition is gone AND the driver has released the
// button.
func TestTrainControllerEmergencyLatchRequiresBothToClear(t *testing.T) {
	c := NewTrainController("G001", "Green")
	c.ApplyEngineerInput(EngineerInput{Kp: 10, Ki: 1})

	modelIn := TrainModelInput{
		ActualSpeedMph: 0,
		NextBlockInfo:  NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: true},
	}
	driverIn := DriverInput{AutoMode: true, EmergencyBrake: true}

	// The driver button alone latches the brake.
	out := c.Cycle(modelIn, driverIn, nil, 40, 500, 1.0)
	assert.True(t, out.EmergencyBrakeStatus)
	assert.Equal(t, 0.0, out.PowerKw)
	assert.True(t, c.EmergencyActive())

	// Releasing the button while the AUTO-mode condition is now present
	// must not clear it.
	driverIn.EmergencyBrake = false
	modelIn.FaultStatus.Engine = true
	out = c.Cycle(modelIn, driverIn, nil, 40, 500, 1.0)
	assert.True(t, out.EmergencyBrakeStatus, "an active condition must keep the latch even with the button released")

	// Only once both the button is released and the condition is clear
	// does the latch drop.
	modelIn.FaultStatus.Engine = false
	out = c.Cycle(modelIn, driverIn, nil, 40, 500, 1.0)
	assert.False(t, out.EmergencyBrakeStatus)
	assert.False(t, c.EmergencyActive())
}

// TestTrainControllerDriverButtonLatches checks the driver-originated path
// into the same latch independent of any AUTO-mode condition.
func TestTrainControllerDriverButtonLatches(t *testing.T) {
	c := NewTrainController("G001", "Green")
	c.ApplyEngineerInput(EngineerInput{Kp: 10, Ki: 1})

	modelIn := TrainModelInput{ActualSpeedMph: 0, NextBlockInfo: NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: true}}
	driverIn := DriverInput{AutoMode: false, EmergencyBrake: true}

	out := c.Cycle(modelIn, driverIn, nil, 40, 500, 1.0)
	assert.True(t, out.EmergencyBrakeStatus)

	driverIn.EmergencyBrake = false
	out = c.Cycle(modelIn, driverIn, nil, 40, 500, 1.0)
	assert.False(t, out.EmergencyBrakeStatus, "no AUTO condition was ever present, so releasing the button alone clears it")
}

// TestTrainControllerDoorInterlock checks that doors may only be
// commanded open while actual speed is exactly 0.
func TestTrainControllerDoorInterlock(t *testing.T) {
	c := NewTrainController("G001", "Green")
	c.ApplyEngineerInput(EngineerInput{Kp: 10, Ki: 1})

	driverIn := DriverInput{AutoMode: false, DoorLeftOpen: true, DoorRightOpen: true}

	moving := TrainModelInput{ActualSpeedMph: 5, NextBlockInfo: NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: true}}
	out := c.Cycle(moving, driverIn, nil, 40, 500, 1.0)
	assert.False(t, out.DoorLeftStatus, "doors must stay closed while the train is moving")
	assert.False(t, out.DoorRightStatus)

	stopped := TrainModelInput{ActualSpeedMph: 0, NextBlockInfo: NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: true}}
	out = c.Cycle(stopped, driverIn, nil, 40, 500, 1.0)
	assert.True(t, out.DoorLeftStatus)
	assert.True(t, out.DoorRightStatus)
}

// TestTrainControllerStationStopSequencing implements the 60-second
// station-stop dwell distinct from the route-level ETA dwell constant.
func TestTrainControllerStationStopSequencing(t *testing.T) {
	c := NewTrainController("G001", "Green")
	c.ApplyEngineerInput(EngineerInput{Kp: 10, Ki: 1})

	station := &StationInfo{Name: "Station A", Side: PlatformLeft}
	modelIn := TrainModelInput{ActualSpeedMph: 0, NextBlockInfo: NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: true}}
	driverIn := DriverInput{AutoMode: true}

	out := c.Cycle(modelIn, driverIn, station, 40, 500, 30.0)
	assert.False(t, out.StationStopComplete, "dwell has not reached 60s yet")

	out = c.Cycle(modelIn, driverIn, station, 40, 500, 30.0)
	assert.True(t, out.StationStopComplete)
}

func TestTrainControllerStationStopResetsIfTrainMoves(t *testing.T) {
	c := NewTrainController("G001", "Green")
	c.ApplyEngineerInput(EngineerInput{Kp: 10, Ki: 1})
	station := &StationInfo{Name: "Station A", Side: PlatformLeft}
	driverIn := DriverInput{AutoMode: true}

	stopped := TrainModelInput{ActualSpeedMph: 0, NextBlockInfo: NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: true}}
	c.Cycle(stopped, driverIn, station, 40, 500, 40.0)

	moving := TrainModelInput{ActualSpeedMph: 5, NextBlockInfo: NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: true}}
	c.Cycle(moving, driverIn, station, 40, 500, 1.0)

	out := c.Cycle(stopped, driverIn, station, 40, 500, 40.0)
	assert.False(t, out.StationStopComplete, "moving between stops must reset the dwell timer")
}

// TestTrainControllerUnauthorizedBlockForcesBrake checks that a block the
// CTC has not authorized entry into zeroes power and sets the service
// brake even with no emergency condition present.
func TestTrainControllerUnauthorizedBlockForcesBrake(t *testing.T) {
	c := NewTrainController("G001", "Green")
	c.ApplyEngineerInput(EngineerInput{Kp: 10, Ki: 1})

	modelIn := TrainModelInput{ActualSpeedMph: 10, NextBlockInfo: NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: false}}
	driverIn := DriverInput{AutoMode: true}

	out := c.Cycle(modelIn, driverIn, nil, 40, 500, 1.0)
	assert.Equal(t, 0.0, out.PowerKw)
	assert.True(t, out.ServiceBrakeStatus)
	assert.False(t, out.EmergencyBrakeStatus, "lack of authority is a service-brake condition, not an emergency one")
}

func TestTrainControllerDriverDashboardReflectsGains(t *testing.T) {
	c := NewTrainController("G001", "Green")
	c.ApplyEngineerInput(EngineerInput{Kp: 4, Ki: 0.5})

	modelIn := TrainModelInput{ActualSpeedMph: 10, NextBlockInfo: NextBlockInfo{CommandedSpeed: 3, AuthorizedToGo: true}}
	driverIn := DriverInput{AutoMode: true, SetTemperatureF: 70}
	out := c.Cycle(modelIn, driverIn, nil, 40, 500, 1.0)

	dash := c.DriverDashboard(modelIn, driverIn, out, 500, 40)
	assert.Equal(t, 4.0, dash.Kp)
	assert.Equal(t, 0.5, dash.Ki)
	assert.True(t, dash.KpKiSet)
	assert.Equal(t, out.PowerKw, dash.PowerOutputKw)
}
