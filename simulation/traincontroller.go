// Copyright (C) 2008-2018 by Nicolas Piganeau and the TS2 TEAM
// (See AUTHORS file)
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program; if not, write to the
// Free Software Foundation, Inc.,
// 59 Temple Place - Suite 330, Boston, MA  02111-1307, USA.

package simulation

import "sync"

// FaultStatus mirrors the three independent fault channels a train model
// reports each cycle (original_source data_types.py TrainModelInput.fault_status).
type FaultStatus struct {
	Signal bool
	Brake  bool
	Engine bool
}

// NextBlockInfo is the block the train is about to enter, as reported by
// the train model (original_source data_types.py next_block_info).
type NextBlockInfo struct {
	BlockNumber        int
	CommandedSpeed     float64
	AuthorizedToGo     bool
}

// TrainModelInput is the per-cycle input from the physical/simulated train
// (original_source data_types.py TrainModelInput).
type TrainModelInput struct {
	FaultStatus              FaultStatus
	ActualSpeedMph           float64
	PassengerEmergencyBrake  bool
	CabinTemperatureF        float64
	NextStationNumber        int
	AuthorityThresholdYards  float64
	AddNewBlockInfo          bool
	NextBlockInfo            NextBlockInfo
	NextBlockEntered         bool
	UpdateNextBlockInfo      bool
}

// TrainModelOutput is the per-cycle output sent back to the train model
// (original_source data_types.py TrainModelOutput).
type TrainModelOutput struct {
	PowerKw               float64
	EmergencyBrakeStatus  bool
	InteriorLightsStatus  bool
	HeadlightsStatus      bool
	DoorLeftStatus        bool
	DoorRightStatus       bool
	ServiceBrakeStatus    bool
	SetCabinTemperatureF  float64
	TrainID               string
	StationStopComplete   bool
	NextStationName       string
	NextStationSide       PlatformSide
	EdgeOfCurrentBlock    bool
}

// DriverInput is the manual/auto control surface the driver's cab
// exposes (original_source data_types.py DriverInput).
type DriverInput struct {
	AutoMode          bool
	HeadlightsOn      bool
	InteriorLightsOn  bool
	DoorLeftOpen      bool
	DoorRightOpen     bool
	SetTemperatureF   float64
	EmergencyBrake    bool
	SetSpeedMph       float64
	ServiceBrake      bool
	TrainID           string
}

// EngineerInput is the PID tuning the engineer applies before the train
// starts (original_source data_types.py EngineerInput).
type EngineerInput struct {
	Kp float64
	Ki float64
}

// BlockInfo describes a single block of known track ahead, used to size
// the lookahead window the controller keeps (original_source BlockInfo).
type BlockInfo struct {
	BlockNumber      int
	LengthMeters     float64
	SpeedLimitMph    float64
	Underground      bool
	AuthorizedToGo   bool
	CommandedSpeed   int
}

// OutputToDriver consolidates everything the cab dashboard renders
// (original_source data_types.py OutputToDriver).
type OutputToDriver struct {
	InputSpeedMph        float64
	ActualSpeedMph       float64
	SpeedLimitMph        float64
	PowerOutputKw        float64
	AuthorityYards       float64
	CurrentCabinTempF    float64
	SetCabinTempF        float64
	AutoMode             bool
	EmergencyBrakeActive bool
	ServiceBrakeActive   bool
	HeadlightsOn         bool
	InteriorLightsOn     bool
	LeftDoorOpen         bool
	RightDoorOpen        bool
	NextStation          string
	StationSide          PlatformSide
	EngineFailure        bool
	SignalFailure        bool
	BrakeFailure         bool
	Kp                   float64
	Ki                   float64
	KpKiSet              bool
}

// stationStopSeconds is the fixed door-open dwell a station stop holds
// for once a train reaches speed 0 at a station block, distinct from the
// route-level ETA dwell constant in route.go.
const stationStopSeconds = 60.0

// TrainController runs the per-cycle PID power regulation, emergency-
// brake latching, and station-stop sequencing for one physical train,
// grounded on original_source's controller package.
type TrainController struct {
	mu sync.RWMutex

	TrainID string
	Line    string

	kp, ki      float64
	kpKiSet     bool
	integral    float64

	emergencyLatched       bool
	emergencyConditionOnly bool // true while the latching condition is still present

	inStationStop     bool
	stationStopElapsed float64
	stationStopSide    PlatformSide

	lookahead []BlockInfo
}

// NewTrainController creates a controller for a train with no PID gains
// applied yet: power stays 0 until the engineer sets Kp/Ki.
func NewTrainController(trainID, line string) *TrainController {
	return &TrainController{TrainID: trainID, Line: line}
}

// ApplyEngineerInput records the PID gains the engineer set and resets
// the integral term.
func (c *TrainController) ApplyEngineerInput(in EngineerInput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kp = in.Kp
	c.ki = in.Ki
	c.kpKiSet = true
	c.integral = 0
}

// SetLookahead records the next blocks of known track, used for speed
// limit and authority bookkeeping (original_source TrainControllerInit.next_four_blocks).
func (c *TrainController) SetLookahead(blocks []BlockInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookahead = append([]BlockInfo(nil), blocks...)
}

// emergencyConditionFromAuto evaluates the AUTO-mode conditions that
// independently justify a controller-originated emergency brake: an
// engine/brake/signal fault, or actual speed exceeding the current
// authority's commanded speed by a hazardous margin.
func emergencyConditionFromAuto(modelIn TrainModelInput, commandedSpeedMph float64) bool {
	if modelIn.FaultStatus.Engine || modelIn.FaultStatus.Brake || modelIn.FaultStatus.Signal {
		return true
	}
	if commandedSpeedMph >= 0 && modelIn.ActualSpeedMph > commandedSpeedMph+5 {
		return true
	}
	return false
}

// updateEmergencyLatch applies the emergency brake as a latched OR of
// (driver button, passenger button, AUTO-mode condition). Once latched it
// stays latched while the driver button is pressed or a condition is
// present; the first cycle with the button not pressed and no condition
// releases it. There is no separate release input, so a latch set by a
// condition alone releases as soon as that condition clears.
func (c *TrainController) updateEmergencyLatch(driverIn DriverInput, modelIn TrainModelInput, commandedSpeedMph float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	condition := modelIn.PassengerEmergencyBrake ||
		(driverIn.AutoMode && emergencyConditionFromAuto(modelIn, commandedSpeedMph))

	if driverIn.EmergencyBrake || condition {
		c.emergencyLatched = true
	}
	c.emergencyConditionOnly = condition

	if c.emergencyLatched && !driverIn.EmergencyBrake && !condition {
		c.emergencyLatched = false
	}
	return c.emergencyLatched
}

// regulatePower implements the PID power regulator: power stays 0 until
// the engineer has applied Kp/Ki, and the integral term holds rather than
// resets on saturation to avoid windup kicks when power is later
// re-enabled.
func (c *TrainController) regulatePower(commandedSpeedMph, actualSpeedMph float64, maxPowerKw float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.kpKiSet {
		return 0
	}
	errMph := commandedSpeedMph - actualSpeedMph
	candidateIntegral := c.integral + errMph
	power := c.kp*errMph + c.ki*candidateIntegral
	if power < 0 {
		power = 0
	} else if power > maxPowerKw {
		power = maxPowerKw
		// anti-windup: hold the integral rather than let it keep growing
		// while saturated, but never discard accumulated error to zero.
		candidateIntegral = c.integral
	}
	c.integral = candidateIntegral
	if power > maxPowerKw {
		power = maxPowerKw
	}
	return power
}

// updateStationStop applies the 60-second station-stop sequencing: the
// timer runs only while a station is present and actual speed is 0, and
// resets as soon as either stops holding. The door interlock is applied in
// Cycle.
func (c *TrainController) updateStationStop(modelIn TrainModelInput, station *StationInfo, actualSpeedMph float64, dt float64) (complete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if station == nil || actualSpeedMph > 0 {
		c.inStationStop = false
		c.stationStopElapsed = 0
		return false
	}
	if !c.inStationStop {
		c.inStationStop = true
		c.stationStopElapsed = 0
		c.stationStopSide = station.Side
	}
	c.stationStopElapsed += dt
	if c.stationStopElapsed >= stationStopSeconds {
		return true
	}
	return false
}

// Cycle runs the per-tick controller update: it takes one tick's worth of
// model/driver/engineer input and produces the commands sent back to the
// train model, honoring the emergency latch, the Kp/Ki gate, and the
// door interlock throughout.
func (c *TrainController) Cycle(modelIn TrainModelInput, driverIn DriverInput, station *StationInfo, speedLimitMph float64, maxPowerKw float64, dt float64) TrainModelOutput {
	commandedSpeedMph := float64(modelIn.NextBlockInfo.CommandedSpeed) / 3.0 * speedLimitMph
	if !driverIn.AutoMode {
		commandedSpeedMph = driverIn.SetSpeedMph
	}
	if commandedSpeedMph > speedLimitMph {
		commandedSpeedMph = speedLimitMph
	}

	emergency := c.updateEmergencyLatch(driverIn, modelIn, commandedSpeedMph)

	stationComplete := c.updateStationStop(modelIn, station, modelIn.ActualSpeedMph, dt)

	doorsMayOpen := modelIn.ActualSpeedMph == 0
	leftOpen := driverIn.DoorLeftOpen && doorsMayOpen
	rightOpen := driverIn.DoorRightOpen && doorsMayOpen
	if station != nil && modelIn.ActualSpeedMph == 0 {
		switch station.Side {
		case PlatformLeft, PlatformBoth:
			leftOpen = leftOpen || doorsMayOpen
		}
		switch station.Side {
		case PlatformRight, PlatformBoth:
			rightOpen = rightOpen || doorsMayOpen
		}
	}

	var power float64
	serviceBrake := driverIn.ServiceBrake
	if emergency {
		power = 0
		serviceBrake = true
	} else if !modelIn.NextBlockInfo.AuthorizedToGo {
		power = 0
		serviceBrake = true
	} else {
		power = c.regulatePower(commandedSpeedMph, modelIn.ActualSpeedMph, maxPowerKw)
		if modelIn.ActualSpeedMph > commandedSpeedMph {
			serviceBrake = true
		}
	}

	stationName := ""
	var stationSide PlatformSide
	if station != nil {
		stationName = station.Name
		stationSide = station.Side
	}

	return TrainModelOutput{
		PowerKw:              power,
		EmergencyBrakeStatus: emergency,
		InteriorLightsStatus: driverIn.InteriorLightsOn,
		HeadlightsStatus:     driverIn.HeadlightsOn,
		DoorLeftStatus:       leftOpen,
		DoorRightStatus:      rightOpen,
		ServiceBrakeStatus:   serviceBrake,
		SetCabinTemperatureF: driverIn.SetTemperatureF,
		TrainID:              c.TrainID,
		StationStopComplete:  stationComplete,
		NextStationName:      stationName,
		NextStationSide:      stationSide,
		EdgeOfCurrentBlock:   modelIn.NextBlockEntered,
	}
}

// DriverDashboard folds model input, the last computed output, and
// controller state into a single dashboard-ready record.
func (c *TrainController) DriverDashboard(modelIn TrainModelInput, driverIn DriverInput, out TrainModelOutput, authorityYards, speedLimitMph float64) OutputToDriver {
	c.mu.RLock()
	defer c.mu.RUnlock()

	inputSpeed := driverIn.SetSpeedMph
	if driverIn.AutoMode {
		inputSpeed = float64(modelIn.NextBlockInfo.CommandedSpeed) / 3.0 * speedLimitMph
	}

	return OutputToDriver{
		InputSpeedMph:        inputSpeed,
		ActualSpeedMph:       modelIn.ActualSpeedMph,
		SpeedLimitMph:        speedLimitMph,
		PowerOutputKw:        out.PowerKw,
		AuthorityYards:       authorityYards,
		CurrentCabinTempF:    modelIn.CabinTemperatureF,
		SetCabinTempF:        driverIn.SetTemperatureF,
		AutoMode:             driverIn.AutoMode,
		EmergencyBrakeActive: out.EmergencyBrakeStatus,
		ServiceBrakeActive:   out.ServiceBrakeStatus,
		HeadlightsOn:         out.HeadlightsStatus,
		InteriorLightsOn:     out.InteriorLightsStatus,
		LeftDoorOpen:         out.DoorLeftStatus,
		RightDoorOpen:        out.DoorRightStatus,
		NextStation:          out.NextStationName,
		StationSide:          out.NextStationSide,
		EngineFailure:        modelIn.FaultStatus.Engine,
		SignalFailure:        modelIn.FaultStatus.Signal,
		BrakeFailure:         modelIn.FaultStatus.Brake,
		Kp:                   c.kp,
		Ki:                   c.ki,
		KpKiSet:              c.kpKiSet,
	}
}

// EmergencyActive reports the current latch state, for tests and the
// audit log.
func (c *TrainController) EmergencyActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.emergencyLatched
}
