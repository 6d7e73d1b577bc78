package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"
	"github.com/jghoshh/habitgrove/frontend/client"
	"github.com/jghoshh/habitgrove/lib/utils"
)

// guestCommands is a slice of Command structures containing commands that are available to users who have not logged in.
var guestCommands []Command

// userCommands is a slice of Command structures containing commands that are available only to logged in users.
var userCommands []Command

// commonCommands is a slice of Command structures containing commands that are available to all users, regardless of their login status.
var commonCommands []Command

// loggedIn is a boolean variable that indicates whether a user is currently logged in. It is true when a user is logged in and false otherwise.
var loggedIn bool

// shell represents an instance of the interactive shell used for this application. Users can interact with the application by executing commands on this shell.
var shell *ishell.Shell

// dismissedBanners tracks which disruption banners the user has waved
// away this session, keyed by episode id. Dismissal is cosmetic: the
// episode stays open and a new episode always re-surfaces the banner.
var dismissedBanners = map[string]bool{}

// The Command struct defines a user command in the system. Each command has a Name, a Desc (short for description), and a Func (the function to execute when the command is called).
type Command struct {
	Name string                   // Name is the name of the command.
	Desc string                   // Desc is a short description of what the command does.
	Func func(c *ishell.Context) // Func is the function that is executed when the command is invoked.
}

// today returns the current day key used for completions and logs.
func today() string {
	return utils.DayKey(time.Now())
}

// handleSessionError reacts to an expired session by dropping back to
// the guest command set; any other error is printed as-is.
func handleSessionError(err error) {
	if err.Error() == "expired refresh token" {
		utils.PrintError("Session expired, please sign in again by typing 'signin' in the terminal.")
		client.ClearKeyring()
		loggedIn = false
		for _, command := range userCommands {
			shell.DeleteCmd(command.Name)
		}
		addCommands(shell, guestCommands)
		return
	}
	utils.PrintError(err.Error())
}

// pickHabit lists the user's habits and reads a selection by number.
// Returns the chosen habit's id and name, or an error.
func pickHabit(c *ishell.Context) (string, string, error) {
	habits, err := client.ListHabits()
	if err != nil {
		return "", "", err
	}
	if len(habits) == 0 {
		return "", "", fmt.Errorf("you have no habits yet, add one with 'addhabit'")
	}

	for i, h := range habits {
		status := "active"
		if !h.IsActive {
			status = "inactive"
		}
		c.Printf("  %d) %s [%s, %s]\n", i+1, h.Name, h.Category, status)
	}

	for {
		c.Print("Pick a habit by number: ")
		choice, err := strconv.Atoi(strings.TrimSpace(c.ReadLine()))
		if err == nil && choice >= 1 && choice <= len(habits) {
			return habits[choice-1].ID.Hex(), habits[choice-1].Name, nil
		}
		c.Println("Invalid choice.")
	}
}

// showDisruptionBanner prints the disruption banner when an episode is
// open and not yet dismissed this session.
func showDisruptionBanner(c *ishell.Context) {
	state, err := client.ActiveDisruption()
	if err != nil || !state.Disrupted || state.Episode == nil {
		return
	}
	if dismissedBanners[state.Episode.ID.Hex()] {
		return
	}

	c.Println()
	c.Println("  ~ Disruption mode is ON (" + string(state.Episode.Type) + ") ~")
	c.Println("  Baseline habits are paused; focus on your keystones.")
	if state.Episode.RecoveryPlan != "" {
		c.Println("  Recovery plan: " + state.Episode.RecoveryPlan)
	}
	c.Print("  Dismiss this banner? (yes/no): ")
	if strings.ToLower(strings.TrimSpace(c.ReadLine())) == "yes" {
		dismissedBanners[state.Episode.ID.Hex()] = true
	}
	c.Println()
}

// InitCmd is a function that initializes the shell commands.
// It initializes the shell and sets up the commands for guest and user scenarios.
func InitCmd() {

	// Initialize shell
	shell = ishell.New()

	// Define the commands available to a guest user (not signed in)
	guestCommands = []Command{
		{
			Name: "signin",
			Desc: "Sign in to your account",
			Func: func(c *ishell.Context) {
				var username, password string
				for {
					c.Print("Enter Username: ")
					username = c.ReadLine()

					if len(username) > 1 {
						break
					}
					c.Println("Username must be longer than 1 character.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if len(password) > 0 {
						break
					}
					c.Println("Password cannot be empty.")
				}

				_, _, err := client.SignIn(username, password)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				loggedIn = true
				c.Println("Welcome back, your grove awaits.")
				for _, command := range guestCommands {
					shell.DeleteCmd(command.Name)
				}
				addCommands(shell, userCommands)
				showDisruptionBanner(c)
			},
		},
		{
			Name: "signup",
			Desc: "Sign up for a new account",
			Func: func(c *ishell.Context) {
				var username, email, password string
				for {
					c.Print("Enter Username: ")
					username = c.ReadLine()

					if len(username) > 1 {
						break
					}
					c.Println("Username must be longer than 1 character.")
				}

				for {
					c.Print("Enter Email: ")
					email = c.ReadLine()

					if utils.ValidateEmail(email) {
						break
					}
					c.Println("Email is not valid.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if utils.ValidatePassword(password) {
						c.Print("Confirm Password: ")
						confirmPassword := c.ReadPassword()

						if password == confirmPassword {
							break
						} else {
							c.Println()
							c.Println("Passwords do not match. Please try again.")
							c.Println()
						}
					} else {
						c.Println()
						c.Println("Password must be at least 8 characters and contain both letters and numbers.")
						c.Println()
					}
				}

				_, _, err := client.SignUp(username, email, password)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Account created successfully. You are now signed in.")
				c.Println("Plant your first habit with 'addhabit'. You can keep up to three active at once.")
				loggedIn = true
				for _, command := range guestCommands {
					shell.DeleteCmd(command.Name)
				}
				addCommands(shell, userCommands)
			},
		},
	}

	// Define the commands available to a signed in user
	userCommands = []Command{
		{
			Name: "habits",
			Desc: "List your habits",
			Func: func(c *ishell.Context) {
				habits, err := client.ListHabits()
				if err != nil {
					handleSessionError(err)
					return
				}
				if len(habits) == 0 {
					c.Println("No habits yet. Add one with 'addhabit'.")
					return
				}
				for _, h := range habits {
					status := "active"
					if !h.IsActive {
						status = "inactive"
						if h.PauseReason != "" {
							status += ", paused: " + h.PauseReason
						}
					}
					c.Printf("  |-- %s [%s, %s]\n", h.Name, h.Category, status)
				}
			},
		},
		{
			Name: "addhabit",
			Desc: "Add a new habit (keystone or baseline)",
			Func: func(c *ishell.Context) {
				var name, category string
				for {
					c.Print("Habit name: ")
					name = strings.TrimSpace(c.ReadLine())
					if name != "" {
						break
					}
					c.Println("Name cannot be empty.")
				}
				for {
					c.Print("Category (keystone/baseline): ")
					category = strings.ToLower(strings.TrimSpace(c.ReadLine()))
					if category == "keystone" || category == "baseline" {
						break
					}
					c.Println("Category must be 'keystone' or 'baseline'.")
				}

				habit, err := client.AddHabit(name, category)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Planted '%s' as a %s habit.\n", habit.Name, habit.Category)
			},
		},
		{
			Name: "removehabit",
			Desc: "Remove a habit and its history",
			Func: func(c *ishell.Context) {
				id, name, err := pickHabit(c)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Remove '%s' and all of its history? (yes/no): ", name)
				if strings.ToLower(strings.TrimSpace(c.ReadLine())) != "yes" {
					return
				}
				if err := client.DeleteHabit(id); err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Habit removed.")
			},
		},
		{
			Name: "togglehabit",
			Desc: "Activate or deactivate a habit",
			Func: func(c *ishell.Context) {
				id, _, err := pickHabit(c)
				if err != nil {
					handleSessionError(err)
					return
				}
				habit, err := client.ToggleHabit(id)
				if err != nil {
					handleSessionError(err)
					return
				}
				if habit.IsActive {
					c.Printf("'%s' is active again.\n", habit.Name)
				} else {
					c.Printf("'%s' is now inactive.\n", habit.Name)
				}
			},
		},
		{
			Name: "done",
			Desc: "Toggle today's completion for a habit",
			Func: func(c *ishell.Context) {
				id, name, err := pickHabit(c)
				if err != nil {
					handleSessionError(err)
					return
				}
				result, err := client.ToggleCompletion(id, today())
				if err != nil {
					handleSessionError(err)
					return
				}
				if result.Completed {
					c.Printf("'%s' done for today. Streak: %d.\n", name, result.Streak)
				} else {
					c.Printf("'%s' unmarked for today. Streak: %d.\n", name, result.Streak)
				}
			},
		},
		{
			Name: "today",
			Desc: "Show what you are expected to do today",
			Func: func(c *ishell.Context) {
				showDisruptionBanner(c)
				habits, err := client.ExpectedHabits()
				if err != nil {
					handleSessionError(err)
					return
				}
				if len(habits) == 0 {
					c.Println("Nothing expected today. Rest easy.")
					return
				}
				c.Println("Expected today:")
				for _, h := range habits {
					c.Printf("  |-- %s [%s]\n", h.Name, h.Category)
				}
			},
		},
		{
			Name: "plant",
			Desc: "Check the health of your plant",
			Func: func(c *ishell.Context) {
				score, err := client.PlantHealth()
				if err != nil {
					handleSessionError(err)
					return
				}
				switch {
				case score >= 80:
					c.Printf("Your plant is flourishing (%d/100).\n", score)
				case score >= 50:
					c.Printf("Your plant is holding steady (%d/100).\n", score)
				case score >= 20:
					c.Printf("Your plant is wilting (%d/100). Complete a habit to revive it.\n", score)
				default:
					c.Printf("Your plant is in trouble (%d/100). Start small today.\n", score)
				}
			},
		},
		{
			Name: "disrupt",
			Desc: "Toggle disruption mode",
			Func: func(c *ishell.Context) {
				state, err := client.ToggleDisruption()
				if err != nil {
					handleSessionError(err)
					return
				}
				if state.Disrupted {
					c.Println("Disruption mode is ON. Baseline habits are paused; protect your keystones.")
				} else {
					c.Println("Disruption mode is OFF. Welcome back to the full routine.")
				}
			},
		},
		{
			Name: "disruptions",
			Desc: "Show your disruption history",
			Func: func(c *ishell.Context) {
				episodes, err := client.DisruptionHistory()
				if err != nil {
					handleSessionError(err)
					return
				}
				if len(episodes) == 0 {
					c.Println("No disruptions on record.")
					return
				}
				for _, ep := range episodes {
					ended := "ongoing"
					if ep.EndedAt != nil {
						ended = ep.EndedAt.Format("2006-01-02")
					}
					c.Printf("  |-- %s: %s -> %s\n", ep.Type, ep.StartedAt.Format("2006-01-02"), ended)
					if ep.RecoveryPlan != "" {
						c.Println("      plan: " + ep.RecoveryPlan)
					}
				}
			},
		},
		{
			Name: "log",
			Desc: "Record today's mood and notes",
			Func: func(c *ishell.Context) {
				var mood *int
				for {
					c.Print("Mood 1-5 (enter to skip): ")
					raw := strings.TrimSpace(c.ReadLine())
					if raw == "" {
						break
					}
					value, err := strconv.Atoi(raw)
					if err == nil && value >= 1 && value <= 5 {
						mood = &value
						break
					}
					c.Println("Mood must be a number between 1 and 5.")
				}

				c.Print("Notes: ")
				notes := c.ReadLine()

				result, err := client.SaveLog(today(), mood, notes)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Log saved.")
				if result.Detected {
					c.Printf("Heads up: your note reads like %s. Disruption mode may now be on.\n", result.Type)
					if result.RecoveryPlan != "" {
						c.Println("Suggested recovery: " + result.RecoveryPlan)
					}
				}
			},
		},
		{
			Name: "analytics",
			Desc: "Show your progress summary",
			Func: func(c *ishell.Context) {
				snapshot, err := client.Analytics()
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Total completions:  %d\n", snapshot.TotalCompletions)
				c.Printf("Longest streak:     %d days\n", snapshot.LongestStreak)
				c.Printf("Completion rate:    %.0f%% (last 30 days)\n", snapshot.CompletionRate*100)
				if snapshot.AverageMood > 0 {
					c.Printf("Average mood:       %.1f / 5\n", snapshot.AverageMood)
				}
				c.Printf("Disruptions:        %d\n", snapshot.DisruptionCount)
				if len(snapshot.StreaksByHabit) > 0 {
					c.Println("Streaks:")
					for _, s := range snapshot.StreaksByHabit {
						c.Printf("  |-- %s: %d days\n", s.HabitName, s.Streak)
					}
				}
			},
		},
		{
			Name: "suggest",
			Desc: "Get coaching advice for your habits",
			Func: func(c *ishell.Context) {
				suggestion, err := client.Suggestions()
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Println(suggestion.Suggestion)
				for _, tip := range suggestion.Tips {
					c.Println("  |-- " + tip)
				}
			},
		},
		{
			Name: "export",
			Desc: "Export your completion history as CSV",
			Func: func(c *ishell.Context) {
				rows, err := client.Export()
				if err != nil {
					handleSessionError(err)
					return
				}
				if len(rows) == 0 {
					c.Println("Nothing to export yet.")
					return
				}
				c.Println("habit,category,date,completed,streak")
				for _, row := range rows {
					c.Printf("%s,%s,%s,%t,%d\n", row.HabitName, row.Category, row.Date, row.Completed, row.Streak)
				}
			},
		},
		{
			Name: "signout",
			Desc: "Sign out from your account",
			Func: func(c *ishell.Context) {
				err := client.SignOut()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("You are now signed out.")
				loggedIn = false
				for _, command := range userCommands {
					shell.DeleteCmd(command.Name)
				}
				addCommands(shell, guestCommands)
			},
		},
	}

	// Define common commands that are always available, regardless of login state
	commonCommands = []Command{
		{
			Name: "exit",
			Desc: "Exit the application",
			Func: func(c *ishell.Context) {
				fmt.Println("Keep growing!")
				os.Exit(0)
			},
		},
	}

	// The help command is created separately to avoid the cyclic dependency
	commonCommands = append(commonCommands, Command{
		Name: "help",
		Desc: "List available commands",
		Func: func(c *ishell.Context) {
			c.Println("Available commands:")
			if loggedIn {
				for _, command := range userCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			} else {
				for _, command := range guestCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			}
			for _, command := range commonCommands {
				c.Println("  |-- '" + command.Name + "' : " + command.Desc)
			}
			c.Println()
		},
	})
}

// addCommands is a helper function that adds the given commands to the shell.
//
// It accepts two arguments:
// - shell: The ishell shell where the commands will be added.
// - commands: A slice of Command structs to be added to the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: "Command: " + command.Name,
			Func: command.Func,
		})
	}
}

// Execute is the main function that executes the shell.
// It welcomes the user, adds common and guest commands to the shell, and runs the shell.
func Execute() {
	shell.Println()
	figure.NewFigure("Habitgrove", "basic", true).Print()
	shell.Println("Welcome to Habitgrove -- grow a plant by keeping your habits. Type 'help' to see a list of commands.")

	addCommands(shell, commonCommands)
	addCommands(shell, guestCommands)

	shell.Run()
}
